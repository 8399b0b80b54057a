package testutils

import (
	"fmt"
	"os"
	"testing"

	"go.viam.com/callsignal"
)

// VerifyTestMain runs the package's tests and fails the run if any goroutines
// are left behind once they are done.
func VerifyTestMain(m *testing.M) {
	exitCode := m.Run()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	if err := callsignal.FindGoroutineLeaks(); err != nil {
		fmt.Fprintf(os.Stderr, "found goroutine leaks: %s\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
