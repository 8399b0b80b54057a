package config

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"

	"go.viam.com/callsignal/store"
)

// ownedStore closes the backend client together with the store.
type ownedStore struct {
	store.Store
	closeClient func() error
}

func (s *ownedStore) Close() error {
	return multierr.Combine(s.Store.Close(), s.closeClient())
}

// OpenStore connects to the configured backend. Closing the returned store also
// disconnects from the backend.
func (c *Config) OpenStore(ctx context.Context, logger golog.Logger) (store.Store, error) {
	switch c.StoreType {
	case StoreTypeMemory, "":
		return store.NewMemoryStore(c.Retention), nil
	case StoreTypeMongoDB:
		return c.openMongoDBStore(ctx, logger)
	case StoreTypeRedis:
		return c.openRedisStore(ctx, logger)
	default:
		return nil, errors.Errorf("unknown store type %q", c.StoreType)
	}
}

func (c *Config) openMongoDBStore(ctx context.Context, logger golog.Logger) (store.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.MongoDB.URI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongodb")
	}
	disconnect := func() error {
		return client.Disconnect(context.Background())
	}

	var successful bool
	defer func() {
		if !successful {
			if err := disconnect(); err != nil {
				logger.Errorw("failed to disconnect from mongodb", "error", err)
			}
		}
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "failed to reach mongodb")
	}
	s, err := store.NewMongoDBStore(ctx, client, c.Retention, logger)
	if err != nil {
		return nil, err
	}
	successful = true
	return &ownedStore{Store: s, closeClient: disconnect}, nil
}

func (c *Config) openRedisStore(ctx context.Context, logger golog.Logger) (store.Store, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{c.Redis.Addr},
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	s, err := store.NewRedisStore(ctx, client, c.Retention, logger)
	if err != nil {
		return nil, multierr.Combine(err, client.Close())
	}
	return &ownedStore{Store: s, closeClient: client.Close}, nil
}
