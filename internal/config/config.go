// Package config loads server and client settings from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transports understood by the client.
const (
	TransportWS    = "ws"
	TransportRawWS = "rawws"
)

// Server holds the chat server settings.
type Server struct {
	Addr           string
	RawAddr        string
	DBPath         string
	HistoryLimit   int
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

// Client holds the chat client settings.
type Client struct {
	ServerURL         string
	Username          string
	Transport         string
	ConnectTimeout    time.Duration
	JoinTimeout       time.Duration
	Heartbeat         time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	LogLevel          string
	LogFormat         string
}

// LoadEnv reads .env style files into the process environment. Variables
// already set win, and a missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadServer reads server settings from the environment.
func LoadServer() (Server, error) {
	var errs []error
	cfg := Server{
		Addr:           getString("CHAT_ADDR", ":3000"),
		RawAddr:        getString("CHAT_RAW_ADDR", ""),
		DBPath:         getString("CHAT_DB_PATH", "chat.db"),
		HistoryLimit:   getInt("CHAT_HISTORY_LIMIT", 50, &errs),
		AllowedOrigins: getList("CHAT_ALLOWED_ORIGINS"),
		LogLevel:       getString("CHAT_LOG_LEVEL", "info"),
		LogFormat:      getString("CHAT_LOG_FORMAT", "text"),
	}
	if cfg.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive, got %d", cfg.HistoryLimit))
	}
	return cfg, errors.Join(errs...)
}

// LoadClient reads client settings from the environment.
func LoadClient() (Client, error) {
	var errs []error
	cfg := Client{
		ServerURL:         getString("CHAT_SERVER_URL", "ws://localhost:3000/ws"),
		Username:          getString("CHAT_USERNAME", ""),
		Transport:         getString("CHAT_TRANSPORT", TransportWS),
		ConnectTimeout:    getDuration("CHAT_CONNECT_TIMEOUT", 10*time.Second, &errs),
		JoinTimeout:       getDuration("CHAT_JOIN_TIMEOUT", 5*time.Second, &errs),
		Heartbeat:         getDuration("CHAT_HEARTBEAT", 30*time.Second, &errs),
		ReconnectBase:     getDuration("CHAT_RECONNECT_BASE", time.Second, &errs),
		ReconnectMax:      getDuration("CHAT_RECONNECT_MAX", 30*time.Second, &errs),
		ReconnectAttempts: getInt("CHAT_RECONNECT_ATTEMPTS", 5, &errs),
		LogLevel:          getString("CHAT_LOG_LEVEL", "warn"),
		LogFormat:         getString("CHAT_LOG_FORMAT", "text"),
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

// Validate checks the transport choice.
func (c Client) Validate() error {
	switch c.Transport {
	case TransportWS, TransportRawWS:
		return nil
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportWS, TransportRawWS)
	}
}

// NewLogger builds a slog logger writing to w. format is "text" or "json".
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
