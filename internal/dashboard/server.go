// Package dashboard provides the local HTTP read surface over the record
// store plus a WebSocket feed of sync lifecycle events.
//
// The dashboard never writes: submissions come in through the form/intake
// path and the sync layer, and the dashboard only lists the merged result
// and relays sync state to connected clients.
package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/frotahub/frotahub/internal/schema"
	"github.com/frotahub/frotahub/internal/store"
	"github.com/frotahub/frotahub/internal/sync"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeState carries an indicator state transition.
	MessageTypeState MessageType = "state"

	// MessageTypeRecordPushed indicates one submission was drained upstream.
	MessageTypeRecordPushed MessageType = "record_pushed"

	// MessageTypePushComplete indicates an outbound pass finished.
	MessageTypePushComplete MessageType = "push_complete"

	// MessageTypePullComplete indicates an inbound merge finished.
	MessageTypePullComplete MessageType = "pull_complete"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8080).
	Port int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server serves the dashboard API and manages WebSocket clients.
type Server struct {
	store  *store.Store
	syncer *sync.Syncer

	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	logger *log.Logger
}

// NewServer creates a new dashboard server over the given store and syncer.
func NewServer(st *store.Store, syncer *sync.Syncer, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:     st,
		syncer:    syncer,
		addr:      fmt.Sprintf(":%d", config.Port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// SetSyncer attaches the syncer backing the /api/sync endpoint. The handler
// wired as the syncer's event sink needs the server first, so construction is
// two-step: NewServer with a nil syncer, then SetSyncer before Start.
func (s *Server) SetSyncer(syncer *sync.Syncer) {
	s.syncer = syncer
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// routes assembles the chi router.
func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Get("/export.csv", s.handleExportCSV)
		r.Get("/roster", s.handleGetRoster)
		r.Get("/sync", s.handleSyncState)
	})

	return r
}

// Broadcast sends a message to all connected clients.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message delivery to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // local dashboard, any origin
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Greet with the current indicator state.
	state, _ := s.syncer.State()
	stateJSON, _ := json.Marshal(map[string]string{"state": string(state)})
	welcome := Message{
		Type:      MessageTypeState,
		Timestamp: time.Now(),
		Data:      stateJSON,
	}
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, only keep-alive.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleListSubmissions returns every submission, most recent first.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.GetAllSubmissions(r.Context())
	if err != nil {
		s.logger.Printf("Failed to list submissions: %v", err)
		writeError(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"submissions": subs,
		"count":       len(subs),
	})
}

// handleGetSubmission returns one submission by id.
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := s.store.GetSubmissionByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, "submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Printf("Failed to get submission %s: %v", id, err)
		writeError(w, "failed to get submission", http.StatusInternalServerError)
		return
	}

	writeJSON(w, sub)
}

// handleExportCSV streams the submission set as a CSV report.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.GetAllSubmissions(r.Context())
	if err != nil {
		s.logger.Printf("Failed to export submissions: %v", err)
		writeError(w, "failed to export submissions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="fleet_report_%s.csv"`, time.Now().Format("2006-01-02")))

	if err := schema.WriteSubmissionsCSV(w, subs); err != nil {
		s.logger.Printf("Failed to write csv: %v", err)
	}
}

// handleGetRoster returns the active roster and its source tag.
func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	units, source, err := s.store.GetRoster(r.Context())
	if err != nil {
		s.logger.Printf("Failed to get roster: %v", err)
		writeError(w, "failed to get roster", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"units":  units,
		"source": source,
	})
}

// handleSyncState returns the indicator state and the pending backlog size.
func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	state, lastErr := s.syncer.State()

	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		s.logger.Printf("Failed to count submissions: %v", err)
		writeError(w, "failed to count submissions", http.StatusInternalServerError)
		return
	}

	payload := map[string]interface{}{
		"state":   state,
		"pending": counts[schema.StatusPending],
		"synced":  counts[schema.StatusSynced],
	}
	if lastErr != nil {
		payload["error"] = lastErr.Error()
	}

	writeJSON(w, payload)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
