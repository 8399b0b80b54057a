package testutils

import (
	"context"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.viam.com/test"

	"go.viam.com/callsignal"
	mongoutils "go.viam.com/callsignal/mongo"
)

var randomizeOnce sync.Once

// randomizeMongoDBNamespaces remaps every registered namespace once per test
// process so test runs do not share collections.
func randomizeMongoDBNamespaces() {
	randomizeOnce.Do(func() {
		mongoutils.RandomizeNamespaces()
	})
}

// BackingMongoDBClient returns a connected client for the backing MongoDB server. It is
// disconnected when the test finishes.
func BackingMongoDBClient(tb testing.TB) *mongo.Client {
	tb.Helper()
	mongoURI := BackingMongoDBURI(tb)
	if mongoURI == "" {
		return nil
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	test.That(tb, err, test.ShouldBeNil)
	test.That(tb, client.Ping(context.Background(), nil), test.ShouldBeNil)
	tb.Cleanup(func() {
		callsignal.UncheckedError(client.Disconnect(context.Background()))
	})
	return client
}

// NewMongoDBNamespace returns a new random database and collection name.
func NewMongoDBNamespace() (string, string) {
	return "test-" + callsignal.RandomAlphaString(5), callsignal.RandomAlphaString(5)
}
