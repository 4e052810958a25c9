package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maxpop/internal/cli"
	"maxpop/internal/config"
	"maxpop/internal/control"
	"maxpop/internal/datastore"
	"maxpop/internal/metrics"
	"maxpop/internal/queue"
	"maxpop/internal/runner"
	"maxpop/internal/sink"
	"maxpop/internal/storage"
	"maxpop/internal/tui/app"
	"maxpop/internal/tui/live"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ramp pop load against the configured agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		useTUI, _ := cmd.Flags().GetBool("tui")
		return runMaxPop(useTUI)
	},
}

func init() {
	f := runCmd.Flags()
	f.Int("queues", 1, "queue count of the first round")
	f.Int("payload", 1, "payload size in bytes of the first round")
	f.Bool("tui", false, "follow the run in the terminal UI")
	f.String("fill-mode", "", "datastore or http")
	f.String("control-addr", "", "listen address of the control API, e.g. :9090")
	f.Duration("cooldown", 0, "pause between rounds")

	viper.BindPFlag("maxPop.start_queues", f.Lookup("queues"))
	viper.BindPFlag("maxPop.start_payload", f.Lookup("payload"))
	viper.BindPFlag("fill_mode", f.Lookup("fill-mode"))
	viper.BindPFlag("control.addr", f.Lookup("control-addr"))
	viper.BindPFlag("cooldown", f.Lookup("cooldown"))
}

func runMaxPop(useTUI bool) error {
	logFile := ""
	if useTUI {
		logFile = filepath.Join(os.TempDir(), "maxpop.log")
	}
	cfg, logger, err := loadConfig(true, logFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	hub := control.NewHub(logger)
	emitters := sink.Multi{sink.NewLog(logger)}

	store := datastore.New(datastore.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.TransPrefix,
	}, logger)
	if err := store.Ping(ctx); err != nil {
		if cfg.FillMode == config.FillModeDatastore {
			return fmt.Errorf("datastore %s: %w", cfg.Redis.Addr, err)
		}
		logger.Warn("datastore unreachable, rounds will not be flushed", zap.Error(err))
	}

	client := queue.NewClient(cfg.Protocol, 0, cfg.MaxInflight)
	var filler runner.Filler = store
	if cfg.FillMode == config.FillModeHTTP {
		filler = queue.HTTPFiller{Client: client, Endpoint: cfg.AgentsHosts[0]}
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("maxpop"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()

		emitters = append(emitters, sink.NewNATS(nc, cfg.NATS.SubjectPrefix, logger))
		unsubscribe, err := control.ListenNATS(nc, hub, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("subscribe control subjects: %w", err)
		}
		defer unsubscribe()
	}

	var recorder *storage.Recorder
	if history, err := storage.Open(cfg.History.Path); err != nil {
		logger.Warn("run history disabled", zap.String("path", cfg.History.Path), zap.Error(err))
	} else {
		defer history.Close()
		recorder = storage.NewRecorder(history, logger)
	}

	events := make(runner.EventChan, 256)
	rc := cfg.Runner()
	controller, err := runner.New(rc, filler, client, store,
		runner.WithSink(emitters),
		runner.WithHub(hub),
		runner.WithMetrics(m),
		runner.WithLogger(logger),
		runner.WithEvents(events),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	start := runner.Round{QueueCount: cfg.MaxPop.StartQueues, PayloadSize: cfg.MaxPop.StartPayload}
	plan := rc.Ramp.Plan(start)
	run := controller.Launch(runCtx, start.QueueCount, start.PayloadSize, nil)
	if recorder != nil {
		recorder.Begin(run, controller.Config(), start)
	}
	ui := fanOut(run, events, recorder)

	serveCtx, stopServe := context.WithCancel(gctx)
	if cfg.Control.Addr != "" {
		api := control.NewAPI(hub, func() *runner.Run { return run }, m.Handler(), logger)
		g.Go(func() error {
			return serve(serveCtx, cfg.Control.Addr, api.Router(), logger)
		})
	}

	g.Go(func() error {
		defer stopServe()
		if !useTUI {
			return cli.Follow(os.Stdout, run, ui, controller.Config(), plan)
		}

		model := app.NewModel(live.NewModel(run.ID, run.Version, plan), run, run.Gate(), ui, app.Options{
			ControllerID: controller.Config().ControllerID,
			ExportDir:    ".",
			Cancel:       cancelRun,
		})
		if err := app.Start(model); err != nil {
			cancelRun()
			return err
		}
		cancelRun()
		if err := run.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// fanOut records every event and forwards it to the returned channel without blocking.
// The channel closes once the run is done.
func fanOut(run *runner.Run, events <-chan runner.Event, recorder *storage.Recorder) <-chan runner.Event {
	out := make(chan runner.Event, cap(events))
	go func() {
		defer close(out)
		finished := false

		handle := func(ev runner.Event) {
			if ev.RunID != run.ID {
				return
			}
			if ev.Kind == runner.EventFinished {
				finished = true
			}
			if recorder != nil {
				recorder.Handle(ev)
			}
			select {
			case out <- ev:
			default:
			}
		}

		for {
			select {
			case ev := <-events:
				handle(ev)
			case <-run.Done():
			drain:
				for {
					select {
					case ev := <-events:
						handle(ev)
					default:
						break drain
					}
				}
				if !finished && recorder != nil {
					recorder.Handle(runner.Event{Kind: runner.EventFinished, RunID: run.ID, Version: run.Version, Err: run.Err()})
				}
				return
			}
		}
	}()
	return out
}

func serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
