// Package httpapi is the transport collaborator: it upgrades HTTP requests to
// websocket channels and feeds inbound frames to the broker.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/streamgate/streamgate/internal/accounting"
	"github.com/streamgate/streamgate/internal/broker"
	"github.com/streamgate/streamgate/internal/config"
	"github.com/streamgate/streamgate/internal/observability"
)

type Server struct {
	cfg      config.Config
	broker   *broker.Broker
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, b *broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		broker: b,
		log:    logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/stats", s.handleStats)
	r.Get("/usage", s.handleUsage)

	r.Get("/v1/stream", s.handleStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleStats serves rolling relay latency quantiles without requiring a
// metrics scraper.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.broker.Stats())
}

// handleUsage returns the authenticated principal's recent usage records.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	principal, err := s.broker.Authenticate(r.Context(), requestCredential(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "credential rejected")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.broker.RecentUsage(r.Context(), principal.ID, limit)
	if err != nil {
		s.log.Warn("usage lookup failed", "principal_id", principal.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "usage_unavailable", "usage history unavailable")
		return
	}
	if records == nil {
		records = []accounting.UsageRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"principal_id": principal.ID,
		"records":      records,
	})
}

// requestCredential pulls the caller's credential from the Authorization
// header, falling back to the access_token query parameter for browser
// websocket clients that cannot set headers.
func requestCredential(r *http.Request) string {
	credential := r.Header.Get("Authorization")
	if strings.TrimSpace(credential) == "" {
		credential = r.URL.Query().Get("access_token")
	}
	return credential
}

// handleStream authenticates the presented credential, upgrades the
// connection, and pumps inbound frames into the broker until the transport
// closes. A failed credential refuses the upgrade outright.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	principal, err := s.broker.Authenticate(r.Context(), requestCredential(r))
	if err != nil {
		s.log.Info("admission refused", "remote", r.RemoteAddr, "error", err)
		respondError(w, http.StatusUnauthorized, "unauthorized", "credential rejected")
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := newWSChannel(wsConn, s.log)
	c := s.broker.Attach(principal, ch)

	for _, topic := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			c.Subscribe(topic)
		}
	}

	wsConn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.broker.Route(c, data)
	}

	s.broker.Disconnect(c, websocket.CloseNormalClosure, "transport closed")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
