package main

import (
	"context"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/callsignal/config"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

func TestMainWithArgs(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ctx := context.Background()
	t.Setenv(config.EnvStoreType, string(config.StoreTypeMemory))

	err := mainWithArgs(ctx, []string{"callsignal"}, logger)
	test.That(t, err, test.ShouldBeError, usage)

	err = mainWithArgs(ctx, []string{"callsignal", "dance"}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown command "dance"`)

	err = mainWithArgs(ctx, []string{"callsignal", "call", "-from", "alice"}, logger)
	test.That(t, err, test.ShouldBeError, "-from and -to are required")

	err = mainWithArgs(ctx, []string{"callsignal", "listen"}, logger)
	test.That(t, err, test.ShouldBeError, "-user is required")

	err = mainWithArgs(ctx, []string{"callsignal", "end"}, logger)
	test.That(t, err, test.ShouldBeError, "-call is required")

	// each invocation gets a fresh memory store, so the call cannot exist.
	err = mainWithArgs(ctx, []string{"callsignal", "end", "-call", "missing"}, logger)
	test.That(t, errors.Is(err, store.ErrNotFound), test.ShouldBeTrue)
}

func TestMainWithArgsBadConfig(t *testing.T) {
	t.Setenv(config.EnvStoreType, "cassandra")
	err := mainWithArgs(context.Background(), []string{"callsignal", "end", "-call", "x"}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeError, `unknown store type "cassandra"`)
}
