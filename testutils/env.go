// Package testutils provides helpers for tests that need backing stores or wait on
// asynchronous behavior.
package testutils

import (
	"os"
	"testing"

	"github.com/pkg/errors"
)

var noSkip = os.Getenv("TEST_NO_SKIP") != ""

func skipWithError(tb testing.TB, err error) {
	tb.Helper()
	if noSkip {
		tb.Fatal(err)
		return
	}
	tb.Skip(err)
}

func backingMongoDBURI() (string, error) {
	mongoURI, ok := os.LookupEnv("TEST_MONGODB_URI")
	if !ok || mongoURI == "" {
		return "", errors.New("no MongoDB URI found")
	}
	randomizeMongoDBNamespaces()
	return mongoURI, nil
}

// SkipUnlessBackingMongoDBURI verifies there is a backing MongoDB URI to use.
func SkipUnlessBackingMongoDBURI(tb testing.TB) {
	tb.Helper()
	if _, err := backingMongoDBURI(); err != nil {
		skipWithError(tb, err)
	}
}

// BackingMongoDBURI returns the backing MongoDB URI to use. The server must be
// a replica set since call subscriptions use change streams.
func BackingMongoDBURI(tb testing.TB) string {
	tb.Helper()
	mongoURI, err := backingMongoDBURI()
	if err != nil {
		skipWithError(tb, err)
		return ""
	}
	return mongoURI
}

// BackingRedisAddr returns the address of the Redis server to test against.
func BackingRedisAddr(tb testing.TB) string {
	tb.Helper()
	addr, ok := os.LookupEnv("TEST_REDIS_ADDR")
	if !ok || addr == "" {
		skipWithError(tb, errors.New("no Redis address found"))
		return ""
	}
	return addr
}
