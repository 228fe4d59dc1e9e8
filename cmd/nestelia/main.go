// Package main is the nestelia CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/nestelia/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists; when neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return config.DefaultConfig(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the process logger, teeing to the configured log file when set.
func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if cfg.Log.File != "" {
		return utils.NewLoggerWithFile(debug, cfg.Log.File)
	}
	return utils.NewLogger(debug)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "serve", "server":
		runServe(args)
	case "query":
		runQuery(args)
	case "warm":
		runWarm(args)
	case "activate":
		runActivate(args)
	case "precache":
		runPrecache(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("nestelia version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// fail prints to stderr and exits with status 1.
func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// joinArgs joins positional args with spaces so multi-word input works the same with
// or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags (and their values) that appear after positional arguments
// to the front so flag.Parse sees them. The flag package stops at the first non-flag
// argument, so "nestelia search lava --limit 3" would otherwise leave --limit unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printUsage() {
	fmt.Println(`nestelia - Offline caching proxy and streaming query client for the wiki portal

Usage:
  nestelia serve [flags]              Start the caching proxy
  nestelia query [flags] <question>   Ask the chatbot and stream the answer
  nestelia warm [flags]               Precache every wiki entry listed by the REST backend
  nestelia activate [flags]           Activate the waiting cache generation (SKIP_WAITING)
  nestelia precache [flags] <url>...  Precache URLs into the wiki content partition
  nestelia search [flags] <query>     Search cached wiki content
  nestelia status [flags]             Show registration, partitions and stats
  nestelia version                    Show version
  nestelia help                       Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/nestelia/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging
  --server string    Proxy URL (default: http://localhost:8080). Use --server "" to work
                     on the cache storage directly when the proxy is not running.

Output Flags (query, search, status):
  --output string    Output format: text or json (default: text)

Query Flags:
  --max-results int  Number of source chunks to retrieve (default from config)
  --model-vps        Route the question to the VPS-hosted model

Search Flags:
  --limit int        Number of results (default from config)
  --fuzzy            Enable fuzzy matching for typo tolerance

Warm Flags:
  --page-size int    Entries per listing page (default: 50)
  --max-pages int    Maximum listing pages to walk (default: 100)

Examples:
  nestelia serve --debug
  nestelia query "how do I reset my password"
  nestelia warm
  nestelia precache /wiki/42 /api/wiki/entries/42
  nestelia search --fuzzy "volcanos"
  nestelia status --output json
  nestelia activate`)
}
