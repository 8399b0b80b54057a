package callsignal_test

import (
	"testing"

	"go.viam.com/callsignal/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}
