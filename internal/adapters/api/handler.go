package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mikey/llm-phish-filter/internal/adapters/store"
	"github.com/mikey/llm-phish-filter/internal/core"
	"go.uber.org/zap"
)

// requestTimeout bounds every repository call made for a request
const requestTimeout = 5 * time.Second

// VerdictHandler serves stored verdicts and their aggregate stats as JSON
type VerdictHandler struct {
	repo   core.VerdictRepository
	logger *zap.Logger
}

// NewVerdictHandler creates a handler over the verdict repository
func NewVerdictHandler(repo core.VerdictRepository, logger *zap.Logger) *VerdictHandler {
	return &VerdictHandler{repo: repo, logger: logger}
}

// Register mounts the verdict routes on mux
func (h *VerdictHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /verdicts", h.list)
	mux.HandleFunc("GET /verdicts/{id}", h.get)
	mux.HandleFunc("DELETE /verdicts/{id}", h.delete)
}

func (h *VerdictHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := h.repo.Stats(ctx)
	if err != nil {
		h.fail(w, "Failed to load verdict stats", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// list serves GET /verdicts?page=1&page_size=10&is_phishing=true
func (h *VerdictHandler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter core.VerdictFilter
	if raw := query.Get("is_phishing"); raw != "" {
		isPhishing, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid is_phishing", http.StatusBadRequest)
			return
		}
		filter.IsPhishing = &isPhishing
	}

	page, ok := intParam(query.Get("page"))
	if !ok {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	pageSize, ok := intParam(query.Get("page_size"))
	if !ok {
		http.Error(w, "invalid page_size", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.repo.List(ctx, filter, page, pageSize)
	if err != nil {
		h.fail(w, "Failed to list verdicts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *VerdictHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	verdict, err := h.repo.Get(ctx, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "verdict not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, "Failed to load verdict", err)
		return
	}
	h.writeJSON(w, http.StatusOK, verdict)
}

func (h *VerdictHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := r.PathValue("id")
	err := h.repo.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "verdict not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(w, "Failed to delete verdict", err)
		return
	}

	h.logger.Info("Deleted verdict", zap.String("email_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *VerdictHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *VerdictHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// intParam parses an optional non-negative integer query value
func intParam(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil && n >= 0
}
