package testutils

import (
	"fmt"
	"testing"
	"time"
)

type assertionRecorder struct {
	testing.TB
	failed bool
	msgs   []string
}

func (r *assertionRecorder) Helper() {}

func (r *assertionRecorder) Fail() {
	r.failed = true
}

func (r *assertionRecorder) FailNow() {
	r.failed = true
	panic(errAssertionFailed)
}

func (r *assertionRecorder) Fatal(args ...interface{}) {
	r.msgs = append(r.msgs, sprint(args...))
	r.FailNow()
}

func (r *assertionRecorder) Fatalf(format string, args ...interface{}) {
	r.msgs = append(r.msgs, sprintf(format, args...))
	r.FailNow()
}

func (r *assertionRecorder) Error(args ...interface{}) {
	r.msgs = append(r.msgs, sprint(args...))
	r.Fail()
}

func (r *assertionRecorder) Errorf(format string, args ...interface{}) {
	r.msgs = append(r.msgs, sprintf(format, args...))
	r.Fail()
}

func (r *assertionRecorder) Failed() bool {
	return r.failed
}

type assertionFailed struct{}

var errAssertionFailed = assertionFailed{}

// WaitForAssertion waits for the given assertion function to pass, retrying it
// until a default deadline. The last failure is reported on tb.
func WaitForAssertion(tb testing.TB, assertion func(tb testing.TB)) {
	tb.Helper()
	WaitForAssertionWithSleep(tb, 10*time.Millisecond, 500, assertion)
}

// WaitForAssertionWithSleep is like WaitForAssertion with a custom retry interval and
// number of attempts.
func WaitForAssertionWithSleep(tb testing.TB, sleep time.Duration, attempts int, assertion func(tb testing.TB)) {
	tb.Helper()
	var last *assertionRecorder
	for i := 0; i < attempts; i++ {
		last = &assertionRecorder{TB: tb}
		if runAssertion(last, assertion) {
			return
		}
		time.Sleep(sleep)
	}
	for _, msg := range last.msgs {
		tb.Error(msg)
	}
	tb.FailNow()
}

func runAssertion(rec *assertionRecorder, assertion func(tb testing.TB)) (passed bool) {
	defer func() {
		if err := recover(); err != nil {
			if _, ok := err.(assertionFailed); !ok {
				panic(err)
			}
			passed = false
		}
	}()
	assertion(rec)
	return !rec.failed
}

func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
