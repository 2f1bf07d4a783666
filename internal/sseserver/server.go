// Package sseserver serves scripted chat event streams for local runs,
// demos and tests. It also exposes the session index and captured events
// kept by the state stores.
package sseserver

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
)

// DefaultScript is served when a request names no script.
const DefaultScript = "basic"

// Server is an http.Handler for the fixture endpoints.
type Server struct {
	scripts  map[string]*Script
	sessions types.SessionStore
	captures types.CaptureStore
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer creates a Server for the given scripts. sessions and captures
// may be nil, in which case the /api endpoints answer 503.
func NewServer(scripts map[string]*Script, sessions types.SessionStore, captures types.CaptureStore) *Server {
	s := &Server{
		scripts:  scripts,
		sessions: sessions,
		captures: captures,
		logger:   slog.Default().With("component", "sseserver"),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /scripts", s.handleScripts)
	s.mux.HandleFunc("POST /chat/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /api/captures/{id}", s.handleAPICapture)
	s.mux.HandleFunc("GET /api/captures/{id}/stream", s.handleAPICaptureStream)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type scriptResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Frames      int    `json:"frames"`
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	result := make([]scriptResponse, 0, len(s.scripts))
	for _, sc := range s.scripts {
		result = append(result, scriptResponse{
			Name:        sc.Name,
			Description: sc.Description,
			Frames:      len(sc.Frames),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// pick returns the script named in the query, the default script, or the
// only script loaded.
func (s *Server) pick(r *http.Request) (*Script, bool) {
	if name := r.URL.Query().Get("script"); name != "" {
		sc, ok := s.scripts[name]
		return sc, ok
	}
	if sc, ok := s.scripts[DefaultScript]; ok {
		return sc, true
	}
	if len(s.scripts) == 1 {
		for _, sc := range s.scripts {
			return sc, true
		}
	}
	return nil, false
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req types.StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ChatID == "" {
		http.Error(w, `{"error":"chat_id is required"}`, http.StatusBadRequest)
		return
	}

	script, ok := s.pick(r)
	if !ok {
		http.Error(w, `{"error":"script not found"}`, http.StatusNotFound)
		return
	}

	body, err := script.Body(req.Content)
	if err != nil {
		s.logger.Error("encode script", "script", script.Name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("streaming script",
		"script", script.Name,
		"chat_id", string(req.ChatID),
		"message_id", string(req.MessageID),
		"bytes", len(body),
	)
	s.writeStream(w, r, body, script.ChunkSize, script.Delay)
}

// writeStream sends body as an event stream. With chunkSize zero each line
// is its own write; otherwise the body is cut every chunkSize bytes,
// regardless of line or rune boundaries.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, body []byte, chunkSize int, delay time.Duration) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for i, chunk := range chunks(body, chunkSize) {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := w.Write(chunk); err != nil {
			s.logger.Debug("client went away", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func chunks(body []byte, size int) [][]byte {
	if size <= 0 {
		out := bytes.SplitAfter(body, []byte("\n"))
		if n := len(out); n > 0 && len(out[n-1]) == 0 {
			out = out[:n-1]
		}
		return out
	}
	var out [][]byte
	for len(body) > 0 {
		n := min(size, len(body))
		out = append(out, body[:n])
		body = body[n:]
	}
	return out
}

type sessionResponse struct {
	SessionID     string `json:"session_id"`
	SessionKey    string `json:"session_key"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	LastMessageID string `json:"last_message_id,omitempty"`
	LastStatus    string `json:"last_status,omitempty"`
	Messages      int64  `json:"messages"`
	EventCount    int64  `json:"event_count"`
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.captures == nil {
		http.Error(w, `{"error":"debug API not configured"}`, http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		var count int64
		if sess.LastMessageID != "" {
			count, err = s.captures.Count(ctx, sess.LastMessageID)
			if err != nil {
				s.logger.Warn("count events failed", "message_id", sess.LastMessageID, "error", err)
			}
		}
		result = append(result, sessionResponse{
			SessionID:     string(sess.SessionID),
			SessionKey:    string(sess.SessionKey),
			Status:        sess.Status,
			CreatedAt:     sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:     sess.UpdatedAt.Format(time.RFC3339),
			LastMessageID: string(sess.LastMessageID),
			LastStatus:    sess.LastStatus,
			Messages:      sess.Messages,
			EventCount:    count,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) loadCapture(w http.ResponseWriter, r *http.Request) ([]*types.CapturedEvent, bool) {
	if s.captures == nil {
		http.Error(w, `{"error":"debug API not configured"}`, http.StatusServiceUnavailable)
		return nil, false
	}
	id := types.MessageID(r.PathValue("id"))
	if !types.ValidMessageID(id) {
		http.Error(w, `{"error":"invalid message id"}`, http.StatusBadRequest)
		return nil, false
	}
	if n, err := s.captures.Count(r.Context(), id); err == nil && n == 0 {
		http.Error(w, `{"error":"capture not found"}`, http.StatusNotFound)
		return nil, false
	}
	events, err := s.captures.Load(r.Context(), id)
	if err != nil {
		s.logger.Error("load capture failed", "message_id", string(id), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return nil, false
	}
	return events, true
}

func (s *Server) handleAPICapture(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadCapture(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// handleAPICaptureStream replays a capture in its original arrival order.
func (s *Server) handleAPICaptureStream(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadCapture(w, r)
	if !ok {
		return
	}
	var body bytes.Buffer
	if err := state.WriteWire(&body, events); err != nil {
		s.logger.Error("encode capture failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	s.writeStream(w, r, body.Bytes(), 0, 0)
}

// Addr normalises a listen address, defaulting the host to loopback.
func Addr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
