package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streamline/internal/catalog"
	"streamline/internal/live"
	"streamline/internal/observability/logging"
	"streamline/internal/observability/metrics"
	"streamline/internal/pubsub"
	"streamline/internal/social"
	"streamline/internal/storage"
)

// Config wires a Handler. Store is required; the services are built from it
// when left nil.
type Config struct {
	Store   storage.Store
	Bus     pubsub.Bus
	Live    *live.Service
	Social  *social.Registry
	Catalog *catalog.Service
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// IngestTokenHash is the bcrypt hash ingest callers are checked against.
	IngestTokenHash string
	// PingInterval controls websocket keepalives. Zero uses 30s.
	PingInterval time.Duration
}

type Handler struct {
	Store           storage.Store
	Bus             pubsub.Bus
	Live            *live.Service
	Social          *social.Registry
	Catalog         *catalog.Service
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	IngestTokenHash []byte

	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	h := &Handler{
		Store:           cfg.Store,
		Bus:             cfg.Bus,
		Live:            cfg.Live,
		Social:          cfg.Social,
		Catalog:         cfg.Catalog,
		Logger:          logging.WithComponent(logger, "api"),
		Metrics:         recorder,
		IngestTokenHash: []byte(cfg.IngestTokenHash),
		pingInterval:    cfg.PingInterval,
	}
	if h.Live == nil {
		h.Live = live.NewService(live.Config{Store: cfg.Store, Bus: cfg.Bus, Logger: logger, Metrics: recorder})
	}
	if h.Social == nil {
		h.Social = social.NewRegistry(cfg.Store, logger)
	}
	if h.Catalog == nil {
		h.Catalog = catalog.NewService(cfg.Store, logger)
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 30 * time.Second
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Cross-origin requests are filtered by the server's CORS middleware
		// before they reach the upgrade.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return h
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/api/channels", h.Channels)
	mux.HandleFunc("/api/channels/", h.ChannelByID)
	mux.HandleFunc("/api/categories", h.Categories)
	mux.HandleFunc("/api/categories/", h.CategoryByID)
	mux.HandleFunc("/api/followers", h.Followers)
	mux.HandleFunc("/api/subscriptions", h.Subscriptions)
	mux.HandleFunc("/api/subscriptions/ws", h.SubscriptionsWS)
	mux.HandleFunc("/api/users/", h.UserByName)
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}
	if bus, ok := h.Bus.(pinger); ok {
		components = append(components, recordComponent("event_bus", bus.Ping(ctx)))
	}
	return components, overallStatus, statusCode
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeMethodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	components, status, code := h.componentHealth(ctx)
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}
