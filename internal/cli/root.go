package cli

import (
	"fmt"

	"launcher-archiver/internal/version"
)

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "sync":
		return runSync(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "status":
		return runStatus(args[1:])
	case "verify":
		return runVerify(args[1:])
	case "browse":
		return runBrowse(args[1:])
	case "version", "--version":
		fmt.Println(version.Value)
		return nil
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println("launcher-archiver: vendor launcher build archival daemon")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  launcher-archiver init")
	fmt.Println("  launcher-archiver doctor")
	fmt.Println("  launcher-archiver sync")
	fmt.Println("  launcher-archiver watch")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init     write default config + create archive layout")
	fmt.Println("  doctor   run dependency and filesystem preflight checks")
	fmt.Println("  sync     run one polling cycle over all enabled channels")
	fmt.Println("  watch    poll continuously until SIGINT/SIGTERM")
	fmt.Println("  status   stage rollup for archived versions")
	fmt.Println("  verify   re-hash retained artifacts against recorded checksums")
	fmt.Println("  browse   interactive browser over archived versions")
	fmt.Println("  version  print build version")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - Use --json on commands for machine-readable output")
	fmt.Println("  - Config settings can be overridden via LAUNCHER_ARCHIVER_* env vars")
}
