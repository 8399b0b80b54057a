package callsignal

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
)

// ContextualMain calls a main entry point function with a cancellable
// context via SIGTERM/SIGINT. This should be called once per process.
func ContextualMain(main func(ctx context.Context, args []string, logger golog.Logger) error, logger golog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := main(ctx, os.Args, logger)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
}
