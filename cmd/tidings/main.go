package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/btouchard/tidings/internal/api"
	"github.com/btouchard/tidings/internal/auth"
	"github.com/btouchard/tidings/internal/config"
	tidingsmcp "github.com/btouchard/tidings/internal/mcp"
	"github.com/btouchard/tidings/internal/metrics"
	"github.com/btouchard/tidings/internal/notify"
	"github.com/btouchard/tidings/internal/planning"
	"github.com/btouchard/tidings/internal/session"
	"github.com/btouchard/tidings/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("tidings %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "hash-token":
		cmdHashToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tidings <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve       Start the Tidings server\n")
	fmt.Fprintf(os.Stderr, "  check       Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  hash-token  Print the sha256 hash of an API token for auth.api_tokens\n")
	fmt.Fprintf(os.Stderr, "  version     Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting tidings",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

// cmdHashToken hashes the token given as argument or on stdin. With
// -generate it creates a fresh token and prints both.
func cmdHashToken(args []string) {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	generate := fs.Bool("generate", false, "generate a new random token")
	_ = fs.Parse(args) // ExitOnError handles errors

	var token string
	switch {
	case *generate:
		t, err := auth.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		token = t
		fmt.Printf("token: %s\n", token)
	case fs.NArg() > 0:
		token = fs.Arg(0)
	default:
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "error: reading token from stdin: %v\n", err)
			os.Exit(1)
		}
		token = strings.TrimSpace(line)
	}

	if token == "" {
		fmt.Fprintln(os.Stderr, "error: empty token")
		os.Exit(1)
	}
	fmt.Printf("token_hash: %s\n", auth.HashToken(token))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

// buildTokens collects the accepted API tokens. Without any configured
// token, one is generated into the data dir so the API is never open.
func buildTokens(cfg *config.Config) (*auth.TokenSet, error) {
	hashes := make(map[string]string, len(cfg.Auth.APITokens))
	for _, t := range cfg.Auth.APITokens {
		hashes[t.Name] = t.TokenHash
	}
	tokens, err := auth.NewTokenSet(hashes)
	if err != nil {
		return nil, err
	}

	if cfg.Auth.APIToken != "" {
		tokens.Add("env", cfg.Auth.APIToken)
	}

	if tokens.Len() == 0 {
		token, created, err := auth.LoadOrCreateToken(cfg.Auth.DataDir)
		if err != nil {
			return nil, fmt.Errorf("loading API token: %w", err)
		}
		tokens.Add("local", token)
		if created {
			slog.Info("generated API token", "path", cfg.Auth.DataDir+"/token")
		}
	}
	return tokens, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	// --- Metrics ---
	var m *metrics.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.MustNewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// --- Notification Server ---
	notifyOpts := []notify.Option{
		notify.WithUpdatesEnabled(cfg.Notify.UpdatesEnabled),
		notify.WithDirectToThis(cfg.Notify.DirectToThis),
		notify.WithMetrics(m),
	}
	if cfg.Notify.Journal {
		notifyOpts = append(notifyOpts, notify.WithJournal(store.Journal{Store: db}))
	}
	ns := notify.NewServer(notifyOpts...)

	// --- Planning Server ---
	ps := planning.NewServer(
		planning.WithNotifier(ns),
		planning.WithDelay(cfg.Planning.Delay),
		planning.WithDefaultNotifyNeeded(cfg.Planning.DefaultNotifyNeeded),
		planning.WithMetrics(m),
	)
	defer ps.Stop()

	planner := planning.NewPlanner(ps, db)
	if cfg.Planning.RestoreOnStart {
		if _, err := planner.Restore(); err != nil {
			return fmt.Errorf("restoring reminders: %w", err)
		}
	}

	// --- Sessions ---
	sessions := session.NewManager(
		session.WithQueueSize(cfg.Sessions.QueueSize),
		session.WithIdleTimeout(cfg.Sessions.IdleTimeout),
		session.WithMetrics(m),
		session.WithNotifier(ns),
	)
	ws := session.NewHandler(ns, sessions, session.HandlerConfig{
		AllowEmit:      cfg.Sessions.AllowEmit,
		WriteTimeout:   cfg.Sessions.WriteTimeout,
		PingInterval:   cfg.Sessions.PingInterval,
		AllowedOrigins: cfg.Sessions.AllowedOrigins,
		OutboxLimit:    cfg.Sessions.OutboxLimit,
	})

	// --- Auth ---
	tokens, err := buildTokens(cfg)
	if err != nil {
		return err
	}

	// --- MCP Server ---
	var mcpHTTP http.Handler
	if cfg.MCP.Enabled {
		mcpServer := tidingsmcp.NewServer(&tidingsmcp.Deps{
			Notifier: ns,
			Planner:  planner,
			Events:   db,
			Version:  version,
		})
		mcpHTTP = server.NewStreamableHTTPServer(mcpServer)

		if len(cfg.MCP.ForwardKeys) > 0 {
			bridge := tidingsmcp.NewBridge(mcpServer, cfg.MCP.Debounce)
			bridge.Attach(ns, cfg.MCP.ForwardKeys...)
			defer bridge.Close()
		}
	}

	// --- HTTP Router ---
	router := api.NewRouter(api.Deps{
		Notifier:    ns,
		Planner:     planner,
		Events:      db,
		Tokens:      tokens,
		WS:          ws,
		MCP:         mcpHTTP,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("tidings is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return sessions.Run(gctx)
	})

	if cfg.Database.RetentionDays > 0 && cfg.Database.CleanupInterval > 0 {
		g.Go(func() error {
			cleanupLoop(gctx, db, cfg.Database)
			return nil
		})
	}

	return g.Wait()
}

// cleanupLoop drops fired reminders and journal entries past retention.
func cleanupLoop(ctx context.Context, db store.Store, cfg config.DatabaseConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if err := db.Cleanup(cutoff); err != nil {
				slog.Warn("cleanup failed", "error", err)
				continue
			}
			slog.Debug("cleanup done", "before", cutoff)
		}
	}
}
