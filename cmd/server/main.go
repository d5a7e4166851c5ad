package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/server"
	"github.com/omochice/roomchat/internal/store"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "roomchat-server",
		Short: "Real-time chat server",
		Long: `roomchat-server relays chat rooms to WebSocket clients.

Clients connect to /ws on the HTTP address. The optional raw address
accepts WebSocket clients on a bare TCP listener. The REST API is served
under /api and Prometheus metrics under /metrics.

Settings are read from .env and CHAT_* environment variables; flags win.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfg.Addr, "addr", "a", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.RawAddr, "raw-addr", cfg.RawAddr, "raw WebSocket listen address, empty disables it")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flags.IntVar(&cfg.HistoryLimit, "history", cfg.HistoryLimit, "messages sent to a new connection")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "extra WebSocket origin patterns")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	rootCmd.AddCommand(&cobra.Command{
		Use:          "serve",
		Short:        "Run the chat server (default)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg config.Server) error {
	if cfg.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", cfg.HistoryLimit)
	}

	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	repo := store.NewRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := server.NewDispatcher(repo, server.Options{
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
		Metrics:      server.NewMetrics(registry),
	})
	router := server.NewRouter(d, repo, server.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       registry,
		Logger:         logger,
	})
	srv := server.New(server.Config{Addr: cfg.Addr, RawAddr: cfg.RawAddr}, d, router, logger)
	if err := srv.Listen(); err != nil {
		store.Close(db)
		return err
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
				return store.Close(db)
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
	return nil
}
