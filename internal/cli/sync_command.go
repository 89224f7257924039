package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/gitrepo"
	"launcher-archiver/internal/scheduler"
	"launcher-archiver/internal/store"
)

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON cycle report")
	verbose := fs.Bool("verbose", false, "debug-level logging")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, st, err := buildScheduler(cfg, newLogger(*verbose), nil)
	if err != nil {
		return err
	}
	lock, err := store.AcquireArchiveLock(st.Root())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	report := sched.RunCycle(ctx)
	if *jsonOut {
		return printJSON(report)
	}
	for _, ch := range report.Channels {
		line := fmt.Sprintf("%s: version=%s new=%t", ch.Channel, ch.Version, ch.New)
		if ch.ArtifactsVerified > 0 || ch.ArtifactsFailed > 0 {
			line += fmt.Sprintf(" verified=%d failed=%d", ch.ArtifactsVerified, ch.ArtifactsFailed)
		}
		if ch.Extracted {
			line += " extracted"
		}
		if ch.Harvested {
			line += " harvested"
		}
		if ch.Committed {
			line += " committed"
		}
		if ch.Pushed {
			line += " pushed"
		}
		if ch.Error != "" {
			line += " error=" + ch.Error
		}
		fmt.Println(line)
	}
	// Per-channel failures are isolated; only config problems make
	// sync exit non-zero.
	fmt.Printf("cycle %s: %d channel(s), %d failure(s)\n", report.CycleID, len(report.Channels), report.Failures)
	return nil
}

func buildScheduler(cfg config.Config, logger *slog.Logger, metrics *scheduler.Metrics) (*scheduler.Scheduler, *store.Store, error) {
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		return nil, nil, err
	}
	var pub *gitrepo.Publisher
	if cfg.Git.Enabled {
		if err := gitrepo.CheckDependencies(); err != nil {
			return nil, nil, err
		}
		pub = gitrepo.New(cfg.ArchiveRoot, cfg.Git.Remote, cfg.Git.Branch, cfg.Git.Push, logger)
	}
	sched := scheduler.New(scheduler.Options{
		Config:    cfg,
		Store:     st,
		Publisher: pub,
		Metrics:   metrics,
		Logger:    logger,
	})
	return sched, st, nil
}
