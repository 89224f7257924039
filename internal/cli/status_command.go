package cli

import (
	"flag"
	"fmt"
	"sort"
	"strings"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/store"
)

type statusResult struct {
	ArchiveRoot string         `json:"archive_root"`
	Versions    int            `json:"versions"`
	Records     []store.Record `json:"records"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	channel := fs.String("channel", "", "only show records for this channel")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		return err
	}
	records, err := st.List()
	if err != nil {
		return err
	}
	if ch := strings.TrimSpace(*channel); ch != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Channel == ch {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	res := statusResult{ArchiveRoot: st.Root(), Versions: len(records), Records: records}
	if *jsonOut {
		return printJSON(res)
	}

	if len(records) == 0 {
		fmt.Println("no archived versions")
		return nil
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  stage=%s  discovered=%s", rec.FullVersion, rec.Stage, rec.DiscoveredAt)
		if len(rec.Harvests) > 0 {
			platforms := make([]string, 0, len(rec.Harvests))
			for p := range rec.Harvests {
				platforms = append(platforms, p)
			}
			sort.Strings(platforms)
			line += "  harvested=" + strings.Join(platforms, ",")
		}
		fmt.Println(line)
	}
	fmt.Printf("%d version(s) archived under %s\n", len(records), st.Root())
	return nil
}
