package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omochice/roomchat/internal/transport/ws"
)

const maxMessagesPerRequest = 200

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins lists extra WebSocket origin patterns.
	AllowedOrigins []string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter mounts the WebSocket endpoint and the read-only REST API.
func NewRouter(d *Dispatcher, store Store, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := &api{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", api.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Handle("/ws", ws.NewHandler(d, opts.AllowedOrigins, logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/users", api.listUsers)
		r.Get("/messages", api.listMessages)
		r.Get("/rooms", api.listRooms)
	})

	return r
}

type api struct {
	store  Store
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.logger.Error("failed to list users", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch users"})
		return
	}
	a.writeJSON(w, http.StatusOK, users)
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMessagesPerRequest)
	}

	messages, err := a.store.FindRecentMessages(r.Context(), r.URL.Query().Get("roomId"), limit)
	if err != nil {
		a.logger.Error("failed to list messages", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch messages"})
		return
	}
	a.writeJSON(w, http.StatusOK, messages)
}

func (a *api) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.store.FindRooms(r.Context())
	if err != nil {
		a.logger.Error("failed to list rooms", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to fetch rooms"})
		return
	}
	a.writeJSON(w, http.StatusOK, rooms)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}

// requestLogger logs one line per request with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
