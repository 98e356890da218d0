package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/glass-erp/deleteflow/pkg/config"
)

// Set by -ldflags at build time.
var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	cfg := config.Load()
	setupLogger(stderr, cfg.LogLevel)

	switch args[1] {
	case "delete":
		return runDeleteCmd(args[2:], cfg, stdout, stderr)
	case "serve", "server":
		return runServeCmd(args[2:], cfg, stdout, stderr)
	case "summary":
		return runSummaryCmd(args[2:], cfg, stdout, stderr)
	case "snapshot":
		return runSnapshotCmd(args[2:], cfg, stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "deleteflow %s (%s)\n", version, commit)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func setupLogger(w io.Writer, level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Guarded deletion of daily-work entries.")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  deleteflow <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "delete", "Run the deletion workflow for one entry and submit it")
	printCommand(w, "serve", "Run the demo deletion endpoint")
	printCommand(w, "summary", "Summarize recorded analytics (--session, --archive)")
	printCommand(w, "snapshot", "Inspect or clear an auto-save snapshot (show|clear)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
