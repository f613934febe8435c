// Package api exposes the bill catalog and chat over REST and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/openlegis/billchat/internal/apperr"
	"github.com/openlegis/billchat/internal/catalog"
	"github.com/openlegis/billchat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Catalog serves the cached bill list and resolves bill documents.
type Catalog interface {
	ListBills(ctx context.Context) ([]catalog.BillListItem, error)
	FetchBillText(ctx context.Context, billID int64) (string, error)
}

// Chat manages per-(user, bill) conversations.
type Chat interface {
	History(ctx context.Context, userID string, billID int64) ([]storage.ChatMessage, error)
	Send(ctx context.Context, userID string, billID int64, text string) (string, error)
}

// TagRunner performs one tagging pass over the catalog.
type TagRunner interface {
	Run(ctx context.Context) error
}

// Handler is the REST surface of the service.
type Handler struct {
	catalog Catalog
	chat    Chat
	tagger  TagRunner
	router  chi.Router

	tagRunning atomic.Bool
	// Background tagging runs are tracked so Shutdown can cancel them and
	// wait before the store closes underneath them.
	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup
}

// NewHandler returns a Handler with all routes registered. An empty token
// disables bearer authentication; chat routes still require a caller identity
// via the X-User-ID header.
func NewHandler(cat Catalog, chat Chat, tagger TagRunner, token string) *Handler {
	h := &Handler{catalog: cat, chat: chat, tagger: tagger}
	h.runCtx, h.stopRuns = context.WithCancel(context.Background())

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(BearerAuth(token))
		}
		r.Get("/bills", h.handleListBills)
		r.Get("/bills/{billID}/text", h.handleBillText)
		r.Post("/bills/tag", h.handleTagBills)
		r.Get("/bills/{billID}/chat", h.handleChatHistory)
		r.Post("/bills/{billID}/chat", h.handleChatSend)
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Shutdown cancels any in-flight background tagging run and blocks until it
// has finished.
func (h *Handler) Shutdown() {
	h.stopRuns()
	h.runs.Wait()
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.catalog.ListBills(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, bills)
}

func (h *Handler) handleBillText(w http.ResponseWriter, r *http.Request) {
	billID, ok := billIDParam(w, r)
	if !ok {
		return
	}
	url, err := h.catalog.FetchBillText(r.Context(), billID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"url": url})
}

// handleTagBills kicks off an asynchronous tagging run. Only one run may be
// in flight per instance; a second request while one is running gets 409.
func (h *Handler) handleTagBills(w http.ResponseWriter, r *http.Request) {
	if !h.tagRunning.CompareAndSwap(false, true) {
		httpError(w, http.StatusConflict, "conflict_error", "a tagging run is already in progress")
		return
	}

	// The run outlives the request: it uses the handler's lifecycle context
	// instead of the request's, so Shutdown can stop it.
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		defer h.tagRunning.Store(false)
		if err := h.tagger.Run(h.runCtx); err != nil {
			slog.Error("tagging run failed", "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"started"}`))
}

func (h *Handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	billID, ok := billIDParam(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.chat.History(r.Context(), user, billID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msgs)
}

func (h *Handler) handleChatSend(w http.ResponseWriter, r *http.Request) {
	billID, ok := billIDParam(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	reply, err := h.chat.Send(r.Context(), user, billID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"text": reply})
}

func billIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "billID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid bill id %q", raw)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to the HTTP surface. Unrecognized errors are
// never echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, apperr.ErrUnauthorized):
		httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
	case errors.Is(err, apperr.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, apperr.ErrUpstream):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
