package secrets

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.viam.com/callsignal"
)

func TestEnv(t *testing.T) {
	ctx := context.Background()
	s, err := NewSource(ctx, SourceTypeEnv)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Type(), test.ShouldEqual, SourceTypeEnv)

	_, err = s.Get(ctx, "lias08123hoiuqhwodaoishdfaoid")
	test.That(t, err, test.ShouldEqual, ErrNotFound)

	key := "CALLSIGNAL_TEST_" + callsignal.RandomAlphaString(12)
	t.Setenv(key, "foo")

	value, err := s.Get(ctx, key)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, "foo")

	value, err = GetOrDefault(ctx, s, key, "bar")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, "foo")

	value, err = GetOrDefault(ctx, s, key+"_MISSING", "bar")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, value, test.ShouldEqual, "bar")

	test.That(t, Close(s), test.ShouldBeNil)
}

func TestNewSource(t *testing.T) {
	s, err := NewSource(context.Background(), "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Type(), test.ShouldEqual, SourceTypeEnv)

	_, err = NewSource(context.Background(), "vault")
	test.That(t, err, test.ShouldBeError, `unknown secret source type "vault"`)
}
