package callsignal

import "go.uber.org/goleak"

// FindGoroutineLeaks finds any goroutine leaks after a program is done running. This
// should be used at the end of a main test run or a top-level process run.
func FindGoroutineLeaks() error {
	return goleak.Find(
		// pion keeps a shared mDNS/UDP mux reader alive until the process exits.
		goleak.IgnoreTopFunction("github.com/pion/transport/v2/udp.(*Listener).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		// the mongo driver's connection pool reaper is owned by the client.
		goleak.IgnoreTopFunction("go.mongodb.org/mongo-driver/x/mongo/driver/topology.(*rttMonitor).runHellos"),
		goleak.IgnoreTopFunction("go.opentelemetry.io/otel/sdk/trace.(*batchSpanProcessor).processQueue"),
	)
}
