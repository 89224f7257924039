package cli

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/scheduler"
	"launcher-archiver/internal/statusd"
	"launcher-archiver/internal/store"
)

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	interval := fs.Duration("interval", 0, "poll interval override (0 = config value)")
	statusAddr := fs.String("status-addr", "", "status HTTP listen address override (empty = config value)")
	verbose := fs.Bool("verbose", false, "debug-level logging")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	if *interval > 0 {
		cfg.PollInterval = *interval
	}
	addr := strings.TrimSpace(*statusAddr)
	if addr == "" {
		addr = cfg.StatusAddr
	}

	logger := newLogger(*verbose)

	reg := prometheus.NewRegistry()
	metrics := scheduler.NewMetrics(reg)

	sched, st, err := buildScheduler(cfg, logger, metrics)
	if err != nil {
		return err
	}

	lock, err := store.AcquireArchiveLock(st.Root())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr != "" {
		srv := statusd.New(addr, st, reg, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("watch started", "interval", cfg.PollInterval.String(), "channels", len(cfg.EnabledChannels()))
	err = sched.Watch(ctx, cfg.PollInterval)
	if errors.Is(err, context.Canceled) {
		logger.Info("watch stopped")
		return nil
	}
	return err
}
