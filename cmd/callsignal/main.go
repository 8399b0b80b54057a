// Package main is the callsignal command. It places, answers and ends calls through the
// configured signaling store, and serves the HTTP call API.
//
//	callsignal call -from alice -to bob
//	callsignal listen -user bob
//	callsignal end -call <id>
//	callsignal serve
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/callsignal"
	"go.viam.com/callsignal/call"
	"go.viam.com/callsignal/config"
	"go.viam.com/callsignal/session"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/trace"
	"go.viam.com/callsignal/transport"
	"go.viam.com/callsignal/web"
)

var logger = golog.Global().Named("callsignal")

func main() {
	callsignal.ContextualMain(mainWithArgs, logger)
}

const usage = "usage: callsignal <call|listen|end|serve> [flags]"

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	if len(args) < 2 {
		return errors.New(usage)
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if cfg.Debug {
		callsignal.Debug = true
	}

	cmd, cmdArgs := args[1], args[2:]
	switch cmd {
	case "call":
		return runCall(ctx, cfg, cmdArgs, logger)
	case "listen":
		return runListen(ctx, cfg, cmdArgs, logger)
	case "end":
		return runEnd(ctx, cfg, cmdArgs, logger)
	case "serve":
		return runServe(ctx, cfg, cmdArgs, logger)
	default:
		return errors.Errorf("unknown command %q; %s", cmd, usage)
	}
}

func withStore(ctx context.Context, cfg *config.Config, logger golog.Logger, f func(s store.Store) error) (err error) {
	s, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, s.Close())
	}()
	return f(s)
}

func transportConfig(cfg *config.Config, video bool) transport.Config {
	tc := cfg.TransportConfig()
	tc.Media.Video = video
	return tc
}

func newEngine(streamID string, logger golog.Logger) transport.Engine {
	return transport.PeerEngineFactory(transport.NewSampleSource(streamID), transport.DiscardSink{Logger: logger}, logger)()
}

func sessionOptions(cfg *config.Config, s store.Store, registry *session.Registry, streamID string, video bool, logger golog.Logger) session.Options {
	return session.Options{
		Store:                s,
		Engine:               newEngine(streamID, logger),
		Config:               transportConfig(cfg, video),
		Registry:             registry,
		MaxPendingCandidates: cfg.MaxPendingCandidates,
		Logger:               logger,
	}
}

// waitForSession blocks until the session is over, hanging up if ctx is done first.
func waitForSession(ctx context.Context, sess *session.Session, logger golog.Logger) error {
	select {
	case <-sess.Done():
	case <-ctx.Done():
		hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Hangup(hangupCtx); err != nil {
			return err
		}
	}
	logger.Infow("call finished", "call_id", sess.CallID(), "state", sess.State().String())
	if sess.State() == session.StateFailed {
		return sess.Err()
	}
	return nil
}

func runCall(ctx context.Context, cfg *config.Config, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	from := flags.String("from", "", "caller user id")
	to := flags.String("to", "", "callee user id")
	video := flags.Bool("video", false, "send and receive video")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *from == "" || *to == "" {
		return errors.New("-from and -to are required")
	}

	return withStore(ctx, cfg, logger, func(s store.Store) error {
		rec, err := s.CreateCall(ctx, &call.Record{CallerID: *from, CalleeID: *to})
		if err != nil {
			return err
		}
		logger.Infow("calling", "call_id", rec.ID, "callee_id", rec.CalleeID)

		sess, err := session.Start(ctx, rec.ID, *from, sessionOptions(cfg, s, nil, rec.ID, *video, logger))
		if err != nil {
			return err
		}
		return waitForSession(ctx, sess, logger)
	})
}

func runListen(ctx context.Context, cfg *config.Config, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("listen", flag.ContinueOnError)
	user := flags.String("user", "", "user id to answer calls for")
	video := flags.Bool("video", false, "send and receive video")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	return withStore(ctx, cfg, logger, func(s store.Store) error {
		ringing := make(chan *call.Record, 16)
		watcher, err := session.NewIncomingWatcher(ctx, session.IncomingOptions{
			Store:       s,
			UserID:      *user,
			RingTimeout: cfg.RingTimeout,
			OnIncoming: func(rec *call.Record) {
				select {
				case ringing <- rec:
				default:
					logger.Warnw("too many calls ringing; leaving call to ring out", "call_id", rec.ID)
				}
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			callsignal.UncheckedError(watcher.Close())
		}()

		registry := session.NewRegistry()
		var wg sync.WaitGroup
		defer wg.Wait()
		logger.Infow("waiting for calls", "user_id", *user)
		for {
			select {
			case <-ctx.Done():
				return nil
			case rec := <-ringing:
				logger.Infow("answering", "call_id", rec.ID, "caller_id", rec.CallerID)
				sess, err := watcher.Accept(ctx, rec.ID, sessionOptions(cfg, s, registry, rec.ID, *video, logger))
				if err != nil {
					logger.Warnw("failed to answer call", "call_id", rec.ID, "error", err)
					continue
				}
				wg.Add(1)
				callsignal.PanicCapturingGo(func() {
					defer wg.Done()
					if err := waitForSession(ctx, sess, logger); err != nil {
						logger.Warnw("call failed", "call_id", sess.CallID(), "error", err)
					}
				})
			}
		}
	})
}

func runEnd(ctx context.Context, cfg *config.Config, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("end", flag.ContinueOnError)
	callID := flags.String("call", "", "id of the call to end")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *callID == "" {
		return errors.New("-call is required")
	}

	return withStore(ctx, cfg, logger, func(s store.Store) error {
		err := s.UpdateCall(ctx, *callID, call.EndUpdate())
		if err != nil && !errors.Is(err, call.ErrEnded) {
			return err
		}
		logger.Infow("call ended", "call_id", *callID)
		return nil
	})
}

func runServe(ctx context.Context, cfg *config.Config, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if cfg.Debug {
		if err := trace.SetProvider(ctx); err != nil {
			return err
		}
		trace.AddExporters(trace.NewLogExporter(logger.Named("trace")))
		defer func() {
			callsignal.UncheckedError(trace.Shutdown(context.Background()))
		}()
	}

	return withStore(ctx, cfg, logger, func(s store.Store) error {
		httpServer := &http.Server{
			Addr:              *addr,
			Handler:           web.NewMux(&web.CallsAPI{Store: s, Logger: logger.Named("api")}, cfg.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		serveCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			cancel()
			<-done
		}()
		callsignal.PanicCapturingGo(func() {
			defer close(done)
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Errorw("failed to shut down http server", "error", err)
			}
		})

		logger.Infow("serving", "url", fmt.Sprintf("http://%s/api/v1", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}
