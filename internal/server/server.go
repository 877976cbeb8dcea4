// Package server exposes the dashboard observer API: REST snapshots plus a
// websocket stream of state pushed by the supervisor. The server is a pure
// observer; it holds no reference into the core beyond the config store.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/config"
	"github.com/Xeron2000/pricesentry/internal/sentry"
)

// Server serves the observer API.
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *config.Store
	log    zerolog.Logger

	mu       sync.RWMutex
	snapshot sentry.Snapshot
	hasData  bool

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

// wsClient is one connected websocket consumer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds the server around the config store.
func New(store *config.Store, log zerolog.Logger) *Server {
	s := &Server{
		store:   store,
		log:     log.With().Str("component", "api_server").Logger(),
		clients: make(map[*wsClient]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/prices", s.handlePrices)
	r.Get("/api/alerts", s.handleAlerts)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/config", s.handleGetConfig)
	r.Post("/api/config", s.handleUpdateConfig)
	r.Get("/ws", s.handleWebsocket)

	s.router = r
	return s
}

// Publish implements sentry.Observer: it stores the snapshot for REST
// reads and pushes it to websocket clients.
func (s *Server) Publish(snapshot sentry.Snapshot) {
	s.mu.Lock()
	s.snapshot = snapshot
	s.hasData = true
	s.mu.Unlock()

	frame, err := msgpack.Marshal(snapshot)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode snapshot frame")
		return
	}

	s.clientsMu.Lock()
	for client := range s.clients {
		select {
		case client.send <- frame:
		default:
			// Slow consumer: drop the frame rather than block the push.
		}
	}
	s.clientsMu.Unlock()
}

// Start serves on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Observer API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) currentSnapshot() (sentry.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.hasData
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, ok := s.currentSnapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"hasData": ok,
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	snapshot, _ := s.currentSnapshot()
	prices := snapshot.Prices
	if prices == nil {
		prices = map[string]float64{}
	}
	s.writeJSON(w, http.StatusOK, prices)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	snapshot, _ := s.currentSnapshot()
	alerts := snapshot.Alerts
	if alerts == nil {
		alerts = []cache.AlertRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot, _ := s.currentSnapshot()
	s.writeJSON(w, http.StatusOK, snapshot.Stats)
}

// handleGetConfig serves the active configuration with credentials
// redacted (the Config json tags omit the telegram block).
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.store.Get()

	payload := map[string]interface{}{
		"config": cfg,
	}
	if cfg.NotificationSymbols.Default {
		payload["notificationSymbols"] = "default"
	} else {
		payload["notificationSymbols"] = cfg.NotificationSymbols.Symbols
	}
	s.writeJSON(w, http.StatusOK, payload)
}

type configUpdatePayload struct {
	Config map[string]interface{} `json:"config"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var payload configUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"errors":  []string{fmt.Sprintf("invalid payload: %v", err)},
		})
		return
	}

	result := s.store.Update(payload.Config)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]interface{}{
		"success":  result.Success,
		"errors":   result.Errors,
		"warnings": result.Warnings,
		"message":  result.Message,
	})
}

// handleWebsocket upgrades and streams msgpack snapshot frames until the
// client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 8)}
	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Seed the new client with the latest snapshot.
	if snapshot, ok := s.currentSnapshot(); ok {
		if frame, err := msgpack.Marshal(snapshot); err == nil {
			select {
			case client.send <- frame:
			default:
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-client.send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
