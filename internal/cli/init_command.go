package cli

import (
	"flag"
	"fmt"
	"strings"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/store"
)

type initResult struct {
	ConfigPath    string   `json:"config_path"`
	CreatedConfig bool     `json:"created_config"`
	ArchiveRoot   string   `json:"archive_root"`
	CreatedDirs   []string `json:"created_dirs"`
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	force := fs.Bool("force", false, "overwrite an existing config file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := strings.TrimSpace(*configPath)
	created, err := config.WriteDefault(path, *force)
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		return err
	}

	res := initResult{
		ConfigPath:    path,
		CreatedConfig: created,
		ArchiveRoot:   st.Root(),
		CreatedDirs:   []string{st.VersionsRoot(), st.ExtractedRoot(), st.RuntimeRoot()},
	}
	if *jsonOut {
		return printJSON(res)
	}

	if created {
		fmt.Printf("config written: %s\n", path)
	} else {
		fmt.Printf("config kept: %s (use --force to overwrite)\n", path)
	}
	fmt.Printf("archive_root: %s\n", st.Root())
	fmt.Println("next: edit channel manifest URLs, then run launcher-archiver doctor")
	return nil
}
