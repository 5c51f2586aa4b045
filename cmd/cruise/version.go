package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
)

// Set at build time, e.g. -ldflags "-X main.version=0.2.0 -X main.commit=abc123".
// serve logs version and commit when the node starts.
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// buildInfo describes this binary on one line.
func buildInfo() string {
	return fmt.Sprintf("cruise %s (commit %s, built %s, %s %s/%s)",
		version, commit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// versionCmd handles the version command.
func versionCmd(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	short := fs.Bool("short", false, "Show only version number")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *help || *helpLong {
		printVersionUsage(os.Stdout)
		return 0
	}

	if *short {
		fmt.Println(version)
	} else {
		fmt.Println(buildInfo())
	}
	return 0
}
