// Package cmd contains the parley entry points: the HTTP API server,
// the local token mint, and version/help plumbing.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parleyhq/parley/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.0.1"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the main entry point for parley. All application logic
// lives in the cmd package, leaving main.go minimal.
func Execute() error {
	// version and help work even when config is invalid.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			return printVersionInfo()
		case "help", "--help", "-h":
			printHelp()
			return nil
		case "token":
			return runToken(os.Args[2:])
		case "serve":
			// fall through to the default below
		default:
			printHelp()
			return fmt.Errorf("unknown command %q", os.Args[1])
		}
	}

	logger := initLogger()
	slog.SetDefault(logger)

	return runServe(logger)
}

// initLogger builds the process logger. DEBUG in the environment
// enables debug level; PARLEY_LOG_JSON switches to JSON output.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
		cfg.AddSource = true
	}
	if os.Getenv("PARLEY_LOG_JSON") != "" {
		cfg.JSON = true
	}
	return log.New(cfg)
}

// checkRequiredEnv verifies required environment variables.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Parley requires a Gemini API key to answer messages.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "To set your API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")

		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

func printHelp() {
	fmt.Println("Parley - chat API server with tool-augmented generation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  parley [serve]          Start the HTTP API server (default)")
	fmt.Println("  parley token <user-id>  Mint a signed bearer token for local testing")
	fmt.Println("  parley version          Show version information")
	fmt.Println("  parley help             Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Required: Gemini API key")
	fmt.Println("  PARLEY_AUTH_SECRET   Required: HMAC secret for bearer tokens")
	fmt.Println("  DATABASE_URL         Optional: overrides the postgres_* settings")
	fmt.Println("  DEBUG                Optional: enable debug logging")
	fmt.Println("  PARLEY_LOG_JSON      Optional: JSON log output")
}
