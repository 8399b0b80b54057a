package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/atomic"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/trace"
)

const (
	redisKeyPrefix       = "callsignal:"
	redisUpdateAttempts  = 5
	redisIncomingChanged = "changed"
)

func redisCallKey(id string) string {
	return redisKeyPrefix + "call:" + id
}

func redisCallChannel(id string) string {
	return redisKeyPrefix + "call-updates:" + id
}

func redisIncomingKey(userID string) string {
	return redisKeyPrefix + "incoming:" + userID
}

func redisIncomingChannel(userID string) string {
	return redisKeyPrefix + "incoming-updates:" + userID
}

// RedisStore is a signaling store backed by Redis. Records are stored as JSON with an
// expiry and every change is published on a per-call channel.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	closed                  atomic.Bool
}

// NewRedisStore returns a store using the given client. Records expire once they are
// older than retention; zero means DefaultRetention.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, retention time.Duration, logger golog.Logger) (*RedisStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &RedisStore{
		client:     client,
		retention:  retention,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// CreateCall stores a new ringing call and adds it to the callee's incoming set.
func (s *RedisStore) CreateCall(ctx context.Context, rec *call.Record) (*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::Redis::CreateCall")
	defer span.End()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	prepared, err := prepareNewCall(rec, uuid.NewString(), time.Now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("call_id", prepared.ID))

	payload, err := json.Marshal(prepared)
	if err != nil {
		return nil, err
	}
	created, err := s.client.SetNX(ctx, redisCallKey(prepared.ID), payload, s.retention).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to store call")
	}
	if !created {
		return nil, ErrAlreadyExists
	}

	incomingKey := redisIncomingKey(prepared.CalleeID)
	if _, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, incomingKey, redis.Z{
			Score:  float64(prepared.CreatedAt.UnixMilli()),
			Member: prepared.ID,
		})
		pipe.Expire(ctx, incomingKey, s.retention)
		pipe.Publish(ctx, redisIncomingChannel(prepared.CalleeID), redisIncomingChanged)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "failed to index incoming call")
	}
	return prepared, nil
}

// GetCall returns the call with the given id.
func (s *RedisStore) GetCall(ctx context.Context, id string) (*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::Redis::GetCall")
	defer span.End()

	if s.closed.Load() {
		return nil, ErrClosed
	}
	return getRedisCall(ctx, s.client, id)
}

// redisGetter is satisfied by both clients and transactions.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRedisCall(ctx context.Context, client redisGetter, id string) (*call.Record, error) {
	data, err := client.Get(ctx, redisCallKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get call")
	}
	var rec call.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode call")
	}
	return &rec, nil
}

// UpdateCall applies the update inside an optimistic transaction, retrying when another
// writer changed the call in between.
func (s *RedisStore) UpdateCall(ctx context.Context, id string, update call.Update) error {
	ctx, span := trace.StartSpan(ctx, "store::Redis::UpdateCall")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", id))

	if err := update.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	key := redisCallKey(id)
	txf := func(tx *redis.Tx) error {
		rec, err := getRedisCall(ctx, tx, id)
		if err != nil {
			return err
		}
		if update.IsEmpty() {
			return nil
		}
		updated := rec.Clone()
		if err := update.Apply(updated); err != nil {
			return err
		}
		payload, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			pipe.Publish(ctx, redisCallChannel(id), payload)
			if updated.Status != rec.Status {
				if updated.Status != call.StatusRinging {
					pipe.ZRem(ctx, redisIncomingKey(updated.CalleeID), id)
				}
				pipe.Publish(ctx, redisIncomingChannel(updated.CalleeID), redisIncomingChanged)
			}
			return nil
		})
		return err
	}

	_, err := callsignal.RetryNTimes(func() (struct{}, error) {
		return struct{}{}, s.client.Watch(ctx, txf, key)
	}, redisUpdateAttempts, redis.TxFailedErr)
	var retryErr *callsignal.RetryError
	if errors.As(err, &retryErr) {
		return ErrUpdateConflict
	}
	return err
}

// SubscribeCall watches a single call through its update channel.
func (s *RedisStore) SubscribeCall(ctx context.Context, id string) (<-chan *call.Record, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	var successful bool
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.cancelCtx, cancel)
	defer func() {
		if !successful {
			stopOnClose()
			cancel()
		}
	}()

	pubSub := s.client.Subscribe(ctx, redisCallChannel(id))
	defer func() {
		if !successful {
			callsignal.UncheckedError(pubSub.Close())
		}
	}()
	// a confirmed subscription means no change published after the read below is missed.
	if _, err := pubSub.Receive(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "failed to subscribe to call")
	}
	rec, err := getRedisCall(ctx, s.client, id)
	if err != nil {
		return nil, nil, err
	}

	f := newFeed[*call.Record]()
	f.publish(rec)

	messages := pubSub.Channel()
	s.activeBackgroundWorkers.Add(1)
	callsignal.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		defer f.close()
		defer func() {
			stopOnClose()
			callsignal.UncheckedError(pubSub.Close())
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var rec call.Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					s.logger.Errorw("failed to decode call update", "call_id", id, "error", err)
					continue
				}
				f.publish(&rec)
			}
		}
	})

	successful = true
	return f.ch, cancel, nil
}

// ListenIncomingCalls watches the ringing calls for the given callee.
func (s *RedisStore) ListenIncomingCalls(ctx context.Context, userID string) (<-chan []*call.Record, func(), error) {
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}

	var successful bool
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.cancelCtx, cancel)
	defer func() {
		if !successful {
			stopOnClose()
			cancel()
		}
	}()

	pubSub := s.client.Subscribe(ctx, redisIncomingChannel(userID))
	defer func() {
		if !successful {
			callsignal.UncheckedError(pubSub.Close())
		}
	}()
	if _, err := pubSub.Receive(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "failed to subscribe to incoming calls")
	}
	recs, err := s.incomingCalls(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	f := newFeed[[]*call.Record]()
	f.publish(recs)

	messages := pubSub.Channel()
	s.activeBackgroundWorkers.Add(1)
	callsignal.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		defer f.close()
		defer func() {
			stopOnClose()
			callsignal.UncheckedError(pubSub.Close())
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				recs, err := s.incomingCalls(ctx, userID)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Errorw("failed to query incoming calls", "user_id", userID, "error", err)
					}
					return
				}
				f.publish(recs)
			}
		}
	})

	successful = true
	return f.ch, cancel, nil
}

func (s *RedisStore) incomingCalls(ctx context.Context, userID string) ([]*call.Record, error) {
	ctx, span := trace.StartSpan(ctx, "store::Redis::incomingCalls")
	defer span.End()

	incomingKey := redisIncomingKey(userID)
	ids, err := s.client.ZRange(ctx, incomingKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list incoming calls")
	}
	recs := []*call.Record{}
	if len(ids) == 0 {
		return recs, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, redisCallKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get incoming calls")
	}

	var stale []interface{}
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// expired
			stale = append(stale, ids[i])
			continue
		}
		var rec call.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, errors.Wrap(err, "failed to decode incoming call")
		}
		if !isIncomingFor(&rec, userID) {
			stale = append(stale, ids[i])
			continue
		}
		recs = append(recs, &rec)
	}
	if len(stale) != 0 {
		callsignal.UncheckedError(s.client.ZRem(ctx, incomingKey, stale...).Err())
	}
	sortIncoming(recs)
	return recs, nil
}

// Close ends every subscription. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	s.cancelFunc()
	s.activeBackgroundWorkers.Wait()
	return nil
}
