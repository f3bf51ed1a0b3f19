package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/analyze"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/api"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/config"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
)

func newAgentCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Watch the input directory, re-analyze on new dumps and serve the query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, logger)
		},
	}
}

// agent ties the pipeline to the watch loop and the API server
type agent struct {
	cfg      *config.Config
	logger   logging.Logger
	pipeline *analyze.Pipeline
	server   *api.Server
}

func runAgent(parent context.Context, cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.DefaultRegistry()
	reg.StartSystemCollector(15*time.Second, ctx.Done())

	pipeline, err := analyze.New(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	server, err := api.NewServer(api.Options{
		Bind:      cfg.API.Bind,
		JWTSecret: cfg.API.JWTSecret,
	}, logger, reg)
	if err != nil {
		return err
	}

	a := &agent{cfg: cfg, logger: logger, pipeline: pipeline, server: server}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return a.watch(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("agent stopped")
	return nil
}

// watch runs one pass immediately, then re-runs after artifact changes
// settle for the configured debounce window. Runs execute on this
// goroutine, so a burst arriving mid-run queues at most one more pass.
func (a *agent) watch(ctx context.Context) error {
	a.runOnce(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(a.cfg.Input.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", a.cfg.Input.Dir, err)
	}

	debounce := time.Duration(a.cfg.Agent.Debounce)
	a.logger.Info("watching input directory",
		logging.Path(a.cfg.Input.Dir),
		logging.Duration("debounce", debounce))

	var timer *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !a.artifactEvent(ev) {
				continue
			}
			a.logger.Debug("artifact changed",
				logging.Path(ev.Name),
				logging.String("op", ev.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", logging.Error(err))

		case <-trigger:
			a.runOnce(ctx)

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		}
	}
}

// artifactEvent reports whether the event names a file matching a
// configured artifact glob. Editors and scp produce Create then Write
// then Rename sequences; all of them reset the debounce window.
func (a *agent) artifactEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	for _, glob := range []string{
		a.cfg.Input.NetDumpGlob,
		a.cfg.Input.FMLogGlob,
		a.cfg.Input.CountersGlob,
	} {
		if ok, _ := filepath.Match(glob, base); ok {
			return true
		}
	}
	return false
}

// runOnce executes one pipeline pass and publishes the result to the
// API server. A failed pass keeps the previous published graph; the
// agent stays up waiting for better artifacts.
func (a *agent) runOnce(ctx context.Context) {
	res, err := a.pipeline.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.logger.Error("analysis run failed", logging.Error(err))
		return
	}
	a.server.Publish(res.Graph, res.RunID)
}
