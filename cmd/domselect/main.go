// CLAUDE:SUMMARY CLI entry point for domselect: one-shot analysis and profile commands, HTTP API daemon, or MCP server on stdio.
// Command domselect scores selector stability and learns per-domain
// selector profiles.
//
// Usage:
//
//	domselect -config domselect.yaml                         # serve the HTTP API
//	domselect -db domselect.db -mcp                          # MCP server on stdio
//	domselect -analyze "#buy" -html page.html -domain shop.example.com
//	domselect -analyze "//li[3]/a" -kind xpath -url https://shop.example.com/
//	domselect -snapshot page.html -domain shop.example.com   # add to history
//	domselect -profile shop.example.com                      # print a profile
//	domselect -profile shop.example.com -stored              # as last flushed
//	domselect -reset shop.example.com                        # forget a domain
//	domselect -purge shop.example.com                        # and its snapshots
//	domselect -export ./profiles                             # dump profiles as JSON
//	domselect -stats
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/selres/domselect"
)

type options struct {
	configPath string
	dbPath     string
	memory     bool
	addr       string
	mcp        bool

	analyze  string
	kind     string
	htmlPath string
	url      string
	domain   string
	limit    int
	seed     bool

	snapshot string
	profile  string
	stored   bool
	reset    string
	purge    string
	export   string
	stats    bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to domselect.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "path to SQLite database")
	flag.BoolVar(&o.memory, "memory", false, "keep profiles in memory only")
	flag.StringVar(&o.addr, "addr", "", "HTTP listen address (default :8087)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP on stdio instead of HTTP")
	flag.StringVar(&o.analyze, "analyze", "", "selector to analyze (exit after result)")
	flag.StringVar(&o.kind, "kind", "css", "selector kind: css, xpath, text")
	flag.StringVar(&o.htmlPath, "html", "", "page HTML file for -analyze and -snapshot")
	flag.StringVar(&o.url, "url", "", "page URL, captured with the browser when -html is empty")
	flag.StringVar(&o.domain, "domain", "", "domain whose profile and history apply")
	flag.IntVar(&o.limit, "limit", 0, "max alternatives")
	flag.BoolVar(&o.seed, "seed", false, "record unseen patterns of the analysis in the domain profile")
	flag.StringVar(&o.snapshot, "snapshot", "", "HTML file to add to the domain history (exit after)")
	flag.StringVar(&o.profile, "profile", "", "print the profile of a domain and exit")
	flag.BoolVar(&o.stored, "stored", false, "with -profile, read the copy in the database")
	flag.StringVar(&o.reset, "reset", "", "reset the profile of a domain and exit")
	flag.StringVar(&o.purge, "purge", "", "delete the profile and snapshots of a domain and exit")
	flag.StringVar(&o.export, "export", "", "write every profile to this directory and exit")
	flag.BoolVar(&o.stats, "stats", false, "show stats and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("domselect: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := resolveConfig(o)
	if err != nil {
		return err
	}

	e, err := domselect.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("domselect: close", "error", err)
		}
	}()

	switch {
	case o.analyze != "":
		return analyze(ctx, e, o)
	case o.snapshot != "":
		html, err := os.ReadFile(o.snapshot)
		if err != nil {
			return err
		}
		res, err := e.RecordSnapshot(ctx, o.domain, o.url, html)
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		return printJSON(res)
	case o.profile != "" && o.stored:
		p, ok, err := e.StoredProfile(ctx, o.profile)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no stored profile for %s", o.profile)
		}
		return printJSON(p)
	case o.profile != "":
		return printJSON(e.GetProfile(o.profile))
	case o.reset != "":
		e.ResetProfile(o.reset)
		return nil
	case o.purge != "":
		return e.PurgeDomain(ctx, o.purge)
	case o.export != "":
		n, err := e.Export(o.export)
		if err != nil {
			return err
		}
		logger.Info("domselect: exported", "dir", o.export, "profiles", n)
		return nil
	case o.stats:
		return printJSON(e.Stats())
	case o.mcp:
		return serveMCP(ctx, logger, e)
	}
	return serveHTTP(ctx, logger, e)
}

func analyze(ctx context.Context, e *domselect.Engine, o options) error {
	kind, err := domselect.ParseKind(o.kind)
	if err != nil {
		return err
	}
	var html []byte
	switch {
	case o.htmlPath != "":
		if html, err = os.ReadFile(o.htmlPath); err != nil {
			return err
		}
	case o.url != "":
		if html, err = e.Capture(ctx, o.url); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
	default:
		return errors.New("-analyze needs -html or -url")
	}

	domain := o.domain
	if domain == "" {
		domain = o.url
	}
	res, err := e.AnalyzeHTML(ctx, domain, domselect.Candidate{Value: o.analyze, Kind: kind}, html, domselect.AnalyzeOptions{Limit: o.limit})
	if err != nil {
		return err
	}
	if o.seed && domain != "" {
		e.Seed(domain, res)
	}
	return printJSON(res)
}

func serveMCP(ctx context.Context, logger *slog.Logger, e *domselect.Engine) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "domselect", Version: "0.1.0"}, nil)
	e.RegisterMCP(srv)
	logger.Info("domselect: mcp on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, logger *slog.Logger, e *domselect.Engine) error {
	srv := &http.Server{
		Addr:              e.Config().Addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("domselect: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}
	logger.Info("domselect: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resolveConfig(o options) (*domselect.Config, error) {
	cfg := &domselect.Config{}
	if o.configPath != "" {
		var err error
		if cfg, err = domselect.LoadConfigFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.memory {
		cfg.InMemory = true
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
