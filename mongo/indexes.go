package mongoutils

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// EnsureIndexes creates the given indexes on the collection. Creating an index that
// already exists with the same definition is a no-op.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, indexes ...mongo.IndexModel) error {
	if len(indexes) == 0 {
		return nil
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return errors.Wrapf(err, "failed to ensure indexes on %s.%s", coll.Database().Name(), coll.Name())
	}
	return nil
}
