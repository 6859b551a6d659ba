// Command lacuna runs the patent whitespace overview server.
//
//	lacuna [serve] -config lacuna.yaml   start the HTTP server
//	lacuna ingest -dir ./corpus          load documents into the store
//	lacuna mcp -config lacuna.yaml       serve the agent tools over stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	mcpserver "github.com/sanonone/lacuna/internal/mcp"
	"github.com/sanonone/lacuna/internal/server"
	"github.com/sanonone/lacuna/internal/store"
	"github.com/sanonone/lacuna/pkg/ingest"
	"github.com/sanonone/lacuna/pkg/overview"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "ingest":
		runIngest(args)
	case "mcp":
		runMCP(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\nusage:\n  lacuna [serve] [flags]\n  lacuna ingest [flags]\n  lacuna mcp [flags]\n", cmd)
		os.Exit(2)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the YAML configuration file")
	addr := fs.String("addr", "", "Listen address, overrides the configuration (e.g. :9091)")
	dbPath := fs.String("db", "", "Path to the SQLite database, overrides the configuration")
	fs.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fatal(logger, "could not load configuration", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		fatal(logger, "could not create the server", err)
	}

	// Block on the signal channel; the listener runs in its own goroutine.
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Run(); err != nil {
			fatal(logger, "server stopped", err)
		}
	}()

	<-shutdownChan
	srv.Shutdown()
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := fs.String("dir", ".", "Directory to ingest documents from")
	dbPath := fs.String("db", "lacuna.db", "Path to the SQLite database")
	include := fs.String("include", "", "Comma-separated file name patterns to include (e.g. '*.jsonl,*.pdf')")
	exclude := fs.String("exclude", "", "Comma-separated file name patterns to exclude")
	validatePDFs := fs.Bool("validate-pdfs", false, "Structurally validate PDFs before extraction")
	fs.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	st, err := store.Open(store.Options{Path: *dbPath, Logger: logger})
	if err != nil {
		fatal(logger, "could not open the store", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := ingest.NewPipeline(ingest.Config{
		Dir:             *dir,
		IncludePatterns: splitPatterns(*include),
		ExcludePatterns: splitPatterns(*exclude),
		ValidatePDFs:    *validatePDFs,
	}, &ingest.StoreAdapter{Store: st}, logger)

	rep, err := pipeline.Run(ctx)
	if err != nil {
		fatal(logger, "ingest run failed", err)
	}

	status, err := st.Status(ctx)
	if err != nil {
		fatal(logger, "could not read corpus status", err)
	}
	logger.Info("corpus status", "patents", status.Patents, "assignees", status.Assignees)
	for _, m := range status.Models {
		logger.Info("embedding coverage", "model", m.Model, "vectors", m.Count, "pending", m.Pending)
	}

	if rep.Failed > 0 {
		st.Close()
		os.Exit(1)
	}
}

func runMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the YAML configuration file")
	fs.Parse(args)

	// stdout carries the protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fatal(logger, "could not load configuration", err)
	}

	st, err := store.Open(store.Options{
		Path:           cfg.Store.Path,
		CacheDir:       cfg.Store.CacheDir,
		CachePrecision: cfg.Store.CachePrecision,
		PreferredModel: cfg.Engine.PreferredModel,
		Logger:         logger,
	})
	if err != nil {
		fatal(logger, "could not open the store", err)
	}
	defer st.Close()

	engine := overview.NewEngine(st, st, st, overview.Config{
		PreferredModel:  cfg.Engine.PreferredModel,
		ClusterStrategy: cfg.Engine.ClusterStrategy,
		LayoutStrategy:  cfg.Engine.LayoutStrategy,
	}, logger)

	queryEmbedder, err := cfg.Embedder.NewEmbedder()
	if err != nil {
		fatal(logger, "could not create the query embedder", err)
	}
	summarizer := overview.NewSummarizer(st, queryEmbedder, logger)

	srv := mcpserver.NewMCPServer(st, engine, summarizer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("MCP server listening on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		fatal(logger, "MCP server stopped", err)
	}
}

func splitPatterns(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
