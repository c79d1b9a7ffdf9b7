package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/plate/internal/config"
	"github.com/marcus/plate/internal/db"
	"github.com/marcus/plate/internal/detector"
	"github.com/marcus/plate/internal/logging"
	"github.com/marcus/plate/internal/shell"
	platesync "github.com/marcus/plate/internal/sync"
)

const pruneInterval = time.Hour

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"daemon"},
	Short:   "Capture clipboard changes and keep them in sync",
	Long: `Run the capture daemon in the foreground. It records every clipboard change,
keeps the sync channel to the server open while logged in, and serves the
local shell API that the other commands use while it runs.`,
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if !verbose {
			levelVar = logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		}

		lock, err := db.AcquireDaemonLock(cfg.DataDir)
		if err != nil {
			if errors.Is(err, db.ErrDaemonRunning) {
				return fmt.Errorf("%w: only one watch may run per data dir", err)
			}
			return err
		}
		defer lock.Release()

		a, err := openAppWith(cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		trigger, err := detector.NewTrigger(cfg.Trigger, cfg.Poll(), cfg.SignalFile)
		if err != nil {
			return err
		}

		engine, err := a.newEngine()
		if err != nil {
			return err
		}
		det, err := detector.New(detector.Options{
			Clipboard: a.clip,
			History:   a.history,
			Codec:     a.codec,
			Events:    a.bus,
			Sync:      engine,
			Settings:  a.settings,
		})
		if err != nil {
			return err
		}
		// Writes made through the shell go via the detector so they are not
		// captured a second time.
		if a.svc, err = a.newService(det); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDaemon(ctx, a, det, trigger, engine)
	},
}

func runDaemon(ctx context.Context, a *app, det *detector.Detector, trigger detector.Trigger, engine *platesync.Engine) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return det.Run(ctx, trigger)
	})

	g.Go(func() error {
		err := engine.Run(ctx)
		if errors.Is(err, platesync.ErrNotLoggedIn) {
			slog.Warn("sync disabled until login", "err", err)
			return nil
		}
		if err != nil {
			// History capture keeps working without sync
			slog.Error("sync stopped", "err", err)
		}
		return nil
	})

	if addr := a.cfg.Shell(); addr != "" {
		g.Go(func() error {
			return shell.Serve(ctx, addr, shell.NewHandler(a.svc, a.bus, engine.Session))
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			if _, err := a.svc.PruneExpired(time.Now()); err != nil {
				slog.Warn("prune expired entries", "err", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		err := config.Watch(ctx, func(c *config.Config) {
			if !verbose && levelVar != nil {
				levelVar.Set(logging.ParseLevel(c.LogLevel))
			}
		})
		if err != nil {
			slog.Warn("config reload unavailable", "err", err)
		}
		return nil
	})

	slog.Info("plate watch running", "data_dir", a.cfg.DataDir, "trigger", trigger.Name())
	err := g.Wait()
	slog.Info("plate watch stopped")
	return err
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
