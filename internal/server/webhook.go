package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/domain"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/repo"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

// Dispatcher routes one raw webhook payload to a terminal outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) domain.Outcome
}

// Server exposes the inbound webhook plus an operator API used by MCP
// tooling and scripts.
type Server struct {
	dispatcher Dispatcher
	store      *usecase.ActionStore
	matcher    *usecase.ApprovalMatcher
	guard      *usecase.LoopGuard
	executor   repo.ExecutorRepo

	server *http.Server
	port   int
}

// NewServer creates the HTTP server
func NewServer(dispatcher Dispatcher, store *usecase.ActionStore, matcher *usecase.ApprovalMatcher, guard *usecase.LoopGuard, executor repo.ExecutorRepo, port int) *Server {
	return &Server{
		dispatcher: dispatcher,
		store:      store,
		matcher:    matcher,
		guard:      guard,
		executor:   executor,
		port:       port,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Inbound messages
	mux.HandleFunc("/webhook", s.handleWebhook)

	// Operator API
	mux.HandleFunc("/api/actions", s.handleActions)
	mux.HandleFunc("/api/actions/", s.handleActionItem)
	mux.HandleFunc("/api/patterns", s.handlePatterns)
	mux.HandleFunc("/api/emergency-stop", s.handleEmergencyStop)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	fmt.Printf("[Server] Starting HTTP server on port %d\n", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// ============ Webhook Handler ============

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome := s.dispatcher.Dispatch(r.Context(), raw)

	var parseErr *domain.ParseError
	if errors.As(outcome.Err, &parseErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(outcome)
		return
	}

	s.writeJSON(w, outcome)
}

// ============ Action Handlers ============

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var actions []*domain.PendingAction
	switch status := r.URL.Query().Get("status"); status {
	case "", "pending":
		actions = s.store.ListPending()
	case "approved":
		actions = s.store.List(domain.ActionApproved)
	case "rejected":
		actions = s.store.List(domain.ActionRejected)
	default:
		http.Error(w, "unknown status "+status, http.StatusBadRequest)
		return
	}

	s.writeJSON(w, map[string]interface{}{"actions": actions})
}

func (s *Server) handleActionItem(w http.ResponseWriter, r *http.Request) {
	// Parse path: /api/actions/{id}/resolve
	path := strings.TrimPrefix(r.URL.Path, "/api/actions/")
	parts := strings.Split(path, "/")

	if len(parts) == 1 && parts[0] != "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		action := s.store.Find(parts[0])
		if action == nil {
			http.Error(w, "action not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, action)
		return
	}

	if len(parts) != 2 || parts[1] != "resolve" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Decision string `json:"decision"`
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	action := s.store.Find(parts[0])
	if action == nil {
		http.Error(w, "action not found", http.StatusNotFound)
		return
	}

	switch req.Decision {
	case "approve":
		if !s.store.Approve(action.ID, req.Response) {
			http.Error(w, "action is no longer pending", http.StatusConflict)
			return
		}
		if err := s.executor.Execute(r.Context(), action.Kind, action.Payload); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"success": true, "status": "approved"})

	case "reject":
		if !s.store.Reject(action.ID, req.Response) {
			http.Error(w, "action is no longer pending", http.StatusConflict)
			return
		}
		s.writeJSON(w, map[string]interface{}{"success": true, "status": "rejected"})

	default:
		http.Error(w, "decision must be approve or reject", http.StatusBadRequest)
	}
}

// ============ Pattern Handlers ============

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		approve, reject := s.matcher.Patterns()
		s.writeJSON(w, map[string]interface{}{
			"auto_approve": approve,
			"auto_reject":  reject,
		})

	case http.MethodPost:
		var req struct {
			Kind    string `json:"kind"`
			Pattern string `json:"pattern"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Pattern == "" {
			http.Error(w, "pattern is required", http.StatusBadRequest)
			return
		}

		var added bool
		var err error
		switch req.Kind {
		case "auto_approve":
			added, err = s.matcher.AddAutoApprovePattern(r.Context(), req.Pattern)
		case "auto_reject":
			added, err = s.matcher.AddAutoRejectPattern(r.Context(), req.Pattern)
		default:
			http.Error(w, "kind must be auto_approve or auto_reject", http.StatusBadRequest)
			return
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"success": true, "added": added})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ============ Emergency Stop Handler ============

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]interface{}{"enabled": s.guard.EmergencyStopped()})

	case http.MethodPost:
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.guard.SetEmergencyStop(req.Enabled)
		s.writeJSON(w, map[string]interface{}{"success": true, "enabled": req.Enabled})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
