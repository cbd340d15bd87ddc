// Command gomask resolves grouped PII against the identity store and masks or
// unmasks documents.
//
// Usage:
//
//	gomask resolve    [flags] -batch grouping.json
//	gomask mask       [flags] -batch grouping.json -in document.txt
//	gomask unmask     [flags] -in masked.txt
//	gomask candidates -in extraction.txt
//
// "-" (the default for -in) reads standard input. The batch file may be the
// raw response of the grouping service; the JSON object inside it is used.
// GOMASK_* environment variables provide defaults that flags override.
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
	"syscall"

	"github.com/dan-solli/gomask/pkg/gomask"
	"github.com/dan-solli/gomask/pkg/grouping"
	"github.com/dan-solli/gomask/pkg/identity"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}

	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "resolve", "mask", "unmask":
		return c.runStoreCommand(ctx, cmd, rest)
	case "candidates":
		return c.runCandidates(rest)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "gomask: unknown command %q\n", cmd)
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: gomask <resolve|mask|unmask|candidates> [flags]")
	fmt.Fprintln(w, "run 'gomask <command> -h' for command flags")
}

func (c *cli) runStoreCommand(ctx context.Context, cmd string, args []string) int {
	cfg := gomask.ConfigFromEnv()

	fs := flag.NewFlagSet("gomask "+cmd, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "identity store file (default data/identity_store.json)")
	fs.StringVar(&cfg.ClusterPath, "clusters", cfg.ClusterPath, "cluster audit log (default data/clusters.json)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "document database (default data/documents.db)")
	fs.DurationVar(&cfg.LockTimeout, "lock-timeout", cfg.LockTimeout, "maximum wait for the store lock (default 30s)")
	fs.IntVar(&cfg.FuzzyThreshold, "fuzzy-threshold", cfg.FuzzyThreshold, "maximum name edit distance for a match (default 2)")
	fs.BoolVar(&cfg.StrictLoad, "strict", cfg.StrictLoad, "fail on a corrupt store instead of resetting it")
	fs.BoolVar(&cfg.TraceEnabled, "trace", cfg.TraceEnabled, "append an operation trace to -trace-path")
	fs.StringVar(&cfg.TracePath, "trace-path", cfg.TracePath, "trace file (default data/traces.jsonl)")
	verbose := fs.Bool("v", false, "debug logging on stderr")

	var batchPath, inPath, source string
	var jsonOut bool
	if cmd == "resolve" || cmd == "mask" {
		fs.StringVar(&batchPath, "batch", "", "grouping payload (JSON, possibly wrapped in prose)")
	}
	if cmd == "mask" || cmd == "unmask" {
		fs.StringVar(&inPath, "in", "-", "input document")
		fs.BoolVar(&jsonOut, "json", false, "print the full result as JSON instead of the text")
	}
	if cmd == "mask" {
		fs.StringVar(&source, "source", "", "label stored with the masked document (default the -in path)")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if (cmd == "resolve" || cmd == "mask") && batchPath == "" {
		fmt.Fprintln(c.stderr, "gomask: -batch is required")
		fs.Usage()
		return exitUsage
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))

	g, err := gomask.New(cfg)
	if err != nil {
		return c.fail(err)
	}
	defer func() {
		if err := g.Close(); err != nil {
			c.logger.Warn("close failed", "error", err)
		}
	}()
	g.WithLogger(c.logger)

	switch cmd {
	case "resolve":
		return c.resolve(ctx, g, batchPath)
	case "mask":
		if source == "" && inPath != "-" {
			source = inPath
		}
		return c.mask(ctx, g, batchPath, inPath, source, jsonOut)
	default:
		return c.unmask(ctx, g, inPath, jsonOut)
	}
}

func (c *cli) resolve(ctx context.Context, g *gomask.Gomask, batchPath string) int {
	batch, err := c.readBatch(batchPath)
	if err != nil {
		return c.fail(err)
	}
	mapping, err := g.Resolve(ctx, batch)
	if err != nil {
		return c.fail(err)
	}
	return c.writeJSON(mapping)
}

func (c *cli) mask(ctx context.Context, g *gomask.Gomask, batchPath, inPath, source string, jsonOut bool) int {
	batch, err := c.readBatch(batchPath)
	if err != nil {
		return c.fail(err)
	}
	text, err := c.readInput(inPath)
	if err != nil {
		return c.fail(err)
	}

	res, err := g.MaskDocument(ctx, text, source, batch)
	if err != nil {
		return c.fail(err)
	}
	if jsonOut {
		return c.writeJSON(map[string]any{
			"text":        res.Text,
			"document_id": res.DocumentID,
			"mapping":     res.Mapping,
			"trace":       res.Trace,
		})
	}
	fmt.Fprint(c.stdout, res.Text)
	return exitOK
}

func (c *cli) unmask(ctx context.Context, g *gomask.Gomask, inPath string, jsonOut bool) int {
	text, err := c.readInput(inPath)
	if err != nil {
		return c.fail(err)
	}

	res, err := g.Unmask(ctx, text)
	if err != nil {
		return c.fail(err)
	}
	if jsonOut {
		return c.writeJSON(map[string]any{
			"text":        res.Text,
			"document_id": res.DocumentID,
			"unknown":     res.Unknown,
			"trace":       res.Trace,
		})
	}
	fmt.Fprint(c.stdout, res.Text)
	return exitOK
}

func (c *cli) runCandidates(args []string) int {
	fs := flag.NewFlagSet("gomask candidates", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	inPath := fs.String("in", "-", "raw extraction response")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	raw, err := c.readInput(*inPath)
	if err != nil {
		return c.fail(err)
	}
	candidates, err := grouping.NewParser().ParseCandidates(raw)
	if err != nil {
		return c.fail(err)
	}
	for i, cand := range candidates {
		if cat, err := identity.NormalizeType(cand.Type); err == nil {
			candidates[i].Type = cat.Type
		}
	}
	return c.writeJSON(candidates)
}

func (c *cli) readBatch(path string) (identity.Batch, error) {
	raw, err := c.readInput(path)
	if err != nil {
		return identity.Batch{}, err
	}
	parser := grouping.NewParser()
	if c.logger != nil {
		parser.WithLogger(c.logger)
	}
	return parser.Parse(raw)
}

func (c *cli) readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(c.stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cli) writeJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(fmt.Errorf("write output: %w", err))
	}
	return exitOK
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "gomask: %v\n", err)
	return exitError
}
