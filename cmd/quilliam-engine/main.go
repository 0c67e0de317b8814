package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gibsondevhouse/quilliam/internal/canon/canonstore"
	"github.com/gibsondevhouse/quilliam/internal/config"
	"github.com/gibsondevhouse/quilliam/internal/engine"
	"github.com/gibsondevhouse/quilliam/internal/lineedit"
	"github.com/gibsondevhouse/quilliam/internal/lockfile"
	"github.com/gibsondevhouse/quilliam/internal/revlog"
	"github.com/gibsondevhouse/quilliam/internal/roster"
	"github.com/gibsondevhouse/quilliam/internal/streamparse"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "parse":
		parseCmd(os.Args[2:])
	case "sweep":
		sweepCmd(os.Args[2:])
	case "patch":
		patchCmd(os.Args[2:])
	case "issues":
		issuesCmd(os.Args[2:])
	case "revisions":
		revisionsCmd(os.Args[2:])
	case "version":
		fmt.Printf("quilliam-engine %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `quilliam-engine

Usage:
  quilliam-engine init [flags]
  quilliam-engine parse [flags]
  quilliam-engine sweep [flags]
  quilliam-engine patch [flags]
  quilliam-engine issues [flags]
  quilliam-engine revisions [flags]
  quilliam-engine version

Commands:
  init        Write the engine config file.
  parse       Parse a streamed model response (NDJSON on stdin) into an event stream on stdout.
  sweep       Run a continuity sweep against the canonical database and print the summary.
  patch       List, accept or reject pending entry patches.
  issues      List open continuity issues.
  revisions   List recent revision journal entries.
  version     Print build information.

`)
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	// Stdout carries command output; logs go to stderr.
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return slog.New(h), nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	universe := fs.String("universe", "", "Universe ID scoping all canonical records")
	workspace := fs.String("workspace", "", "Writing workspace root (characters/, locations/, world/)")
	stateDir := fs.String("state-dir", "", "State directory (default: ~/.quilliam)")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	_ = fs.Parse(args)

	if *universe == "" || *workspace == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := &config.Config{
		UniverseID:   *universe,
		WorkspaceDir: *workspace,
		StateDir:     *stateDir,
		LogFormat:    *logFormat,
		LogLevel:     *logLevel,
	}
	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fatal("init failed: %v", err)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

// parseEvent is the stdout wire shape of one stream event.
type parseEvent struct {
	Type string `json:"type"` // "text" or "edit"

	Text string `json:"text,omitempty"`

	// Numeric edit fields are always present on edit events: 0 is a valid
	// index and must not read as absent.
	Kind       string               `json:"kind,omitempty"`
	Start      int                  `json:"start"`
	End        int                  `json:"end"`
	AfterIndex int                  `json:"after_index"`
	Lines      []string             `json:"lines,omitempty"`
	Target     *lineedit.FileTarget `json:"target,omitempty"`
	Commentary string               `json:"commentary,omitempty"`
}

func parseCmd(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	_ = fs.Parse(args)

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)

	p := streamparse.New(os.Stdin)
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			fatal("parse failed: %v", err)
		}
		var out parseEvent
		switch {
		case ev.Token != nil:
			out = parseEvent{Type: "text", Text: ev.Token.Text}
		case ev.Block != nil:
			target := ev.Block.Target
			out = parseEvent{
				Type:       "edit",
				Kind:       string(ev.Block.Edit.Kind),
				Start:      ev.Block.Edit.Start,
				End:        ev.Block.Edit.End,
				AfterIndex: ev.Block.Edit.AfterIndex,
				Lines:      ev.Block.Edit.NewLines,
				Target:     &target,
				Commentary: ev.Block.Commentary,
			}
		default:
			continue
		}
		if err := enc.Encode(&out); err != nil {
			fatal("encode event: %v", err)
		}
	}
}

func openService(cfgPath string) (*engine.Service, *revlog.Store, func()) {
	cfg, err := config.Load(filepath.Clean(cfgPath))
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	log, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fatal("%v", err)
	}

	lock, err := lockfile.AcquireStateDir(cfg.EffectiveStateDir())
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			fatal("another quilliam-engine process holds %s", cfg.EffectiveStateDir())
		}
		fatal("failed to lock state dir: %v", err)
	}

	r, err := roster.Load(cfg.WorkspaceDir)
	if err != nil {
		_ = lock.Release()
		fatal("failed to load workspace: %v", err)
	}
	store, err := canonstore.Open(cfg.EffectiveDBPath())
	if err != nil {
		_ = lock.Release()
		fatal("failed to open database: %v", err)
	}
	rev, err := revlog.New(revlog.Options{Logger: log, StateDir: cfg.EffectiveStateDir()})
	if err != nil {
		_ = store.Close()
		_ = lock.Release()
		fatal("failed to open revision journal: %v", err)
	}

	svc, err := engine.New(engine.Options{
		Logger:              log,
		UniverseID:          cfg.UniverseID,
		Store:               store,
		Roster:              r,
		Revisions:           rev,
		AutoCommitThreshold: cfg.EffectiveAutoCommitThreshold(),
	})
	if err != nil {
		_ = store.Close()
		_ = lock.Release()
		fatal("failed to init engine: %v", err)
	}
	return svc, rev, func() {
		_ = store.Close()
		_ = lock.Release()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx, cancel
}

func sweepCmd(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	svc, _, closeFn := openService(*cfgPath)
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	sum, err := svc.Sweep(ctx)
	if err != nil {
		fatal("sweep failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(&sum)
}

func patchCmd(args []string) {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	list := fs.Bool("list", false, "List pending patches")
	accept := fs.String("accept", "", "Accept the patch with this id")
	reject := fs.String("reject", "", "Reject the patch with this id")
	_ = fs.Parse(args)

	svc, _, closeFn := openService(*cfgPath)
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	switch {
	case *accept != "":
		sum, err := svc.AcceptPatch(ctx, *accept)
		if err != nil {
			fatal("accept failed: %v", err)
		}
		fmt.Printf("Patch %s accepted; sweep: %d detected, %d open\n", *accept, sum.Detected, sum.OpenCount)
	case *reject != "":
		if err := svc.RejectPatch(ctx, *reject); err != nil {
			fatal("reject failed: %v", err)
		}
		fmt.Printf("Patch %s rejected\n", *reject)
	case *list:
		pending, err := svc.PendingPatches(ctx)
		if err != nil {
			fatal("list failed: %v", err)
		}
		printJSONList(pending)
	default:
		fs.Usage()
		os.Exit(2)
	}
}

func issuesCmd(args []string) {
	fs := flag.NewFlagSet("issues", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	svc, _, closeFn := openService(*cfgPath)
	defer closeFn()

	ctx, cancel := signalContext()
	defer cancel()

	open, err := svc.OpenIssues(ctx)
	if err != nil {
		fatal("list failed: %v", err)
	}
	printJSONList(open)
}

func revisionsCmd(args []string) {
	fs := flag.NewFlagSet("revisions", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 50, "Maximum entries to print, newest first")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	rev, err := revlog.New(revlog.Options{StateDir: cfg.EffectiveStateDir()})
	if err != nil {
		fatal("failed to open revision journal: %v", err)
	}
	entries, err := rev.List(*limit)
	if err != nil {
		fatal("list failed: %v", err)
	}
	printJSONList(entries)
}

func printJSONList[T any](items []T) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for i := range items {
		if err := enc.Encode(&items[i]); err != nil {
			fatal("encode: %v", err)
		}
	}
}
