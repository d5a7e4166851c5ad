package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/omochice/roomchat/internal/chat"
	"github.com/omochice/roomchat/internal/client"
	"github.com/omochice/roomchat/internal/client/tui"
	"github.com/omochice/roomchat/internal/config"
	"github.com/omochice/roomchat/internal/transport/rawws"
	"github.com/omochice/roomchat/internal/transport/ws"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	var logFile string
	rootCmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Terminal chat client",
		Long: `roomchat connects to a chat server and opens the chat screen.

Type a line and press enter to send it. Commands:
  /quit       leave the chat
  /reconnect  connect again after the client gave up retrying
  /clear      clear the error line

Settings are read from .env and CHAT_* environment variables; flags win.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, logFile)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.ServerURL, "server", "s", cfg.ServerURL, "server URL")
	flags.StringVarP(&cfg.Username, "username", "u", cfg.Username, "username to join as")
	flags.StringVarP(&cfg.Transport, "transport", "t", cfg.Transport, "transport: ws or rawws")
	flags.IntVar(&cfg.ReconnectAttempts, "reconnect-attempts", cfg.ReconnectAttempts, "reconnect attempts before giving up")
	flags.StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Client, logFile string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	username, err := chat.NormalizeUsername(cfg.Username)
	if err != nil {
		return fmt.Errorf("--username: %w", err)
	}

	// The terminal belongs to the UI, so logs only go to an explicit file.
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := config.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	var dialer client.Dialer = ws.Dialer{}
	if cfg.Transport == config.TransportRawWS {
		dialer = rawws.Dialer{}
	}

	conn := client.NewConnection(ctx, client.Options{
		URL:            cfg.ServerURL,
		Dialer:         dialer,
		ConnectTimeout: cfg.ConnectTimeout,
		JoinTimeout:    cfg.JoinTimeout,
		Heartbeat:      cfg.Heartbeat,
		ReconnectBase:  cfg.ReconnectBase,
		ReconnectMax:   cfg.ReconnectMax,
		MaxAttempts:    cfg.ReconnectAttempts,
		Logger:         logger.With("server", cfg.ServerURL, "transport", cfg.Transport),
	})
	defer conn.Close()

	c := client.New(conn)
	defer c.Close()

	p := tea.NewProgram(tui.New(ctx, c, username), tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	if err := c.Disconnect(); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
