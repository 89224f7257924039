package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/gitrepo"
	"launcher-archiver/internal/manifest"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

func runDoctor(args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	res := doctorResult{OK: true}
	add := func(name string, ok bool, message string) {
		res.Checks = append(res.Checks, doctorCheck{Name: name, OK: ok, Message: message})
		if !ok {
			res.OK = false
		}
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		add("config", false, err.Error())
		return printDoctor(res, *jsonOut)
	}
	add("config", true, fmt.Sprintf("%d channel(s) enabled", len(cfg.EnabledChannels())))

	if err := archiveRootWritable(cfg.ArchiveRoot); err != nil {
		add("archive_root", false, err.Error())
	} else {
		add("archive_root", true, cfg.ArchiveRoot)
	}

	if cfg.Git.Enabled {
		if err := gitrepo.CheckDependencies(); err != nil {
			add("git", false, err.Error())
		} else {
			add("git", true, "git found on PATH")
		}
	} else {
		add("git", true, "git automation disabled")
	}

	// Reachability failures are reported but not fatal; manifests come
	// and go with vendor infrastructure.
	client := manifest.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, ch := range cfg.EnabledChannels() {
		name := "manifest_" + ch.Name
		if err := client.CheckReachable(ctx, ch.ManifestURL); err != nil {
			res.Checks = append(res.Checks, doctorCheck{Name: name, OK: false, Message: err.Error()})
		} else {
			res.Checks = append(res.Checks, doctorCheck{Name: name, OK: true, Message: ch.ManifestURL})
		}
	}

	return printDoctor(res, *jsonOut)
}

func printDoctor(res doctorResult, jsonOut bool) error {
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, c := range res.Checks {
			status := "ok"
			if !c.OK {
				status = "fail"
			}
			fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
		}
		if res.OK {
			fmt.Println("doctor: all checks passed")
		}
	}
	if !res.OK {
		return errors.New("doctor checks failed")
	}
	return nil
}

func archiveRootWritable(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(root, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
