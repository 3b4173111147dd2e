// Package stub implements a small in-process Alloy server used by tests and
// local experiments. It answers every endpoint the client calls with canned
// data and can be told to fail or slow down at runtime.
package stub

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/alloy/pkg/alloy"
)

// Options configures a Server.
type Options struct {
	// Models is returned by GET /models. Nil means an empty listing.
	Models *alloy.ModelsResponse
	Logger *slog.Logger
	// Name is echoed in every response so callers can tell servers apart.
	Name string
	// FailStatus, when non-zero, makes every endpoint but /health answer
	// with this status code.
	FailStatus int
	// Latency delays every answer.
	Latency time.Duration
}

// Server is an http.Handler that mimics an Alloy node.
type Server struct {
	models     *alloy.ModelsResponse
	logger     *slog.Logger
	mux        *http.ServeMux
	name       string
	calls      map[string]int
	failStatus atomic.Int64
	latency    atomic.Int64
	mu         sync.Mutex
}

// New builds a stub server.
func New(opts Options) *Server {
	if opts.Models == nil {
		opts.Models = &alloy.ModelsResponse{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		models: opts.Models,
		logger: opts.Logger,
		name:   opts.Name,
		calls:  make(map[string]int),
		mux:    http.NewServeMux(),
	}
	s.failStatus.Store(int64(opts.FailStatus))
	s.latency.Store(int64(opts.Latency))

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("GET /models", s.wrap("models", s.handleModels))
	s.mux.HandleFunc("POST /chat", s.wrap("chat", s.handleChat))
	s.mux.HandleFunc("POST /image", s.wrap("image", s.handleImage))
	s.mux.HandleFunc("POST /audio", s.wrap("audio", s.handleAudio))
	return s
}

// LoadModels reads a /models fixture from a YAML (or JSON) file.
func LoadModels(path string) (*alloy.ModelsResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models fixture: %w", err)
	}
	var models alloy.ModelsResponse
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse models fixture %s: %w", path, err)
	}
	return &models, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetFailStatus switches failure injection on (non-zero) or off (0).
func (s *Server) SetFailStatus(status int) {
	s.failStatus.Store(int64(status))
}

// SetLatency changes the delay applied to every answer.
func (s *Server) SetLatency(d time.Duration) {
	s.latency.Store(int64(d))
}

// Calls returns how many requests an endpoint ("models", "chat", "image",
// "audio") has received, failed ones included.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

func (s *Server) wrap(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[endpoint]++
		s.mu.Unlock()

		if d := time.Duration(s.latency.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if status := int(s.failStatus.Load()); status != 0 {
			s.logger.Debug("injected failure", "stub", s.name, "endpoint", endpoint, "status", status)
			http.Error(w, fmt.Sprintf("stub %s: injected failure", s.name), status)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.models)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req alloy.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Stream {
		http.Error(w, "streaming not supported", http.StatusBadRequest)
		return
	}

	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	writeJSON(w, alloy.ChatResponse{
		Model:      req.Model,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Done:       true,
		DoneReason: "stop",
		Message:    alloy.Message{Role: "assistant", Content: fmt.Sprintf("%s: %s", s.name, last)},
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	prompt, _ := req["prompt"].(string)
	writeJSON(w, map[string]any{
		"model_id": req["model_id"],
		"node":     s.name,
		"images":   []string{base64.StdEncoding.EncodeToString([]byte(prompt))},
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	var req alloy.AudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	out, _ := json.Marshal(map[string]any{"text": req.Text, "node": s.name})
	writeJSON(w, alloy.AudioResponse{Outputs: []json.RawMessage{out}, SampleRate: 24000})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
