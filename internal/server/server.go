// Package server exposes the agent over an OpenAI-compatible HTTP API so
// existing chat clients can talk to it unchanged.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/agent"
)

// maxBodyBytes caps request bodies; chat clients resend the full history.
const maxBodyBytes = 4 << 20

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithModel sets the model id used when a request names none.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithModels lets the server discover backend models for /v1/models and for
// requests that name none.
func WithModels(l ModelLister) Option {
	return func(s *Server) { s.models = l }
}

// WithMonitor supplies the model last seen online by a running ModelMonitor.
func WithMonitor(m *ModelMonitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithEmbedding enables the POST /v1/embeddings proxy.
func WithEmbedding(e dossier.EmbeddingProvider, model string) Option {
	return func(s *Server) {
		s.embedding = e
		s.embeddingModel = model
	}
}

// Server routes HTTP requests to an agent.Handler.
type Server struct {
	agent          agent.Handler
	model          string
	models         ModelLister
	monitor        *ModelMonitor
	embedding      dossier.EmbeddingProvider
	embeddingModel string
	mux            *http.ServeMux
	logger         *slog.Logger
}

// New builds the HTTP handler for h.
func New(h agent.Handler, opts ...Option) *Server {
	s := &Server{agent: h, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChat)
	s.mux.HandleFunc("POST /chat/completions", s.handleChat)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("GET /healthz", handleHealth)
	if s.embedding != nil {
		s.mux.HandleFunc("POST /v1/embeddings", s.handleEmbeddings)
		s.mux.HandleFunc("POST /embeddings", s.handleEmbeddings)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// chatRequest is the subset of the OpenAI chat payload the agent reads.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentPart is one element of an array-valued message content.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      dossier.ChatMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}
	text, err := messageText(req.Messages[len(req.Messages)-1].Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model := s.resolveModel(r.Context(), req.Model)
	if model == "" {
		writeError(w, http.StatusServiceUnavailable, "no model is loaded in the backend")
		return
	}

	start := time.Now()
	reply := s.agent.Handle(r.Context(), agent.Request{Text: text, Model: model})
	if errors.Is(r.Context().Err(), context.Canceled) {
		s.logger.Info("client went away", "duration", time.Since(start))
		return
	}
	s.logger.Debug("chat completion served", "model", model, "duration", time.Since(start))

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + dossier.NewID(),
		Object:  "chat.completion",
		Created: dossier.NowUnix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      dossier.AssistantMessage(reply),
			FinishReason: "stop",
		}},
	})
}

// messageText flattens a message content that is either a string or an
// array of content parts. Non-text parts are ignored.
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content must be a string or an array of content parts")
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// resolveModel picks the model for a request: the one it names, then the one
// the monitor last saw online, then the backend's first listed model, then
// the configured default.
func (s *Server) resolveModel(ctx context.Context, requested string) string {
	if requested != "" {
		return requested
	}
	if s.monitor != nil {
		if m := s.monitor.Current(); m != "" {
			return m
		}
	}
	if ids := s.backendModels(ctx); len(ids) > 0 {
		return ids[0]
	}
	return s.model
}

// backendModels asks the backend for its models. Failures are logged and
// yield nil.
func (s *Server) backendModels(ctx context.Context) []string {
	if s.models == nil {
		return nil
	}
	ids, err := s.models.ListModels(ctx)
	if err != nil {
		s.logger.Warn("model discovery failed", "error", err)
		return nil
	}
	return ids
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ids := s.backendModels(r.Context())
	if len(ids) == 0 && s.model != "" {
		ids = []string{s.model}
	}
	data := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]string{"id": id, "object": "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

type embeddingRequest struct {
	Input json.RawMessage `json:"input"`
	Model string          `json:"model"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil || len(req.Input) == 0 || string(req.Input) == "null" {
		writeError(w, http.StatusBadRequest, "invalid payload: 'input' is required")
		return
	}
	inputs, err := embeddingInputs(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vecs, err := s.embedding.Embed(dossier.WithPurpose(r.Context(), dossier.PurposeProxy), inputs)
	if err != nil || len(vecs) != len(inputs) {
		s.logger.Error("embedding proxy failed", "inputs", len(inputs), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get embedding from backend")
		return
	}
	model := req.Model
	if model == "" {
		model = s.embeddingModel
	}
	resp := embeddingResponse{Object: "list", Model: model, Data: make([]embeddingData, len(vecs))}
	for i, v := range vecs {
		resp.Data[i] = embeddingData{Object: "embedding", Index: i, Embedding: v}
	}
	writeJSON(w, http.StatusOK, resp)
}

// embeddingInputs accepts a string or an array of strings.
func embeddingInputs(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("'input' must be a string or a list of strings")
	}
	return many, nil
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": map[string]string{"message": msg}})
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
