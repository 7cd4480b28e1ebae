package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/search"
)

// Handler holds API route handlers.
type Handler struct {
	engine      *search.Engine
	pipeline    *ask.Pipeline
	indexer     *index.Indexer
	db          *index.DB
	topKDefault int
}

// NewHandler creates a new Handler.
func NewHandler(engine *search.Engine, pipeline *ask.Pipeline, indexer *index.Indexer, db *index.DB, topKDefault int) *Handler {
	return &Handler{engine: engine, pipeline: pipeline, indexer: indexer, db: db, topKDefault: topKDefault}
}

// Search handles GET /api/search.
//
// Query parameters: q (required), top_k, prefer_recent, tags
// (comma-separated), tag_mode (and|or), from, to (YYYY-MM-DD),
// expand_links.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}

	topK, _ := strconv.Atoi(q.Get("top_k"))
	if topK <= 0 {
		topK = h.topKDefault
	}
	preferRecent, _ := strconv.ParseBool(q.Get("prefer_recent"))
	expandLinks, _ := strconv.Atoi(q.Get("expand_links"))

	var tags []string
	if raw := q.Get("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	filters := search.Filters{
		Tags:     tags,
		TagOR:    strings.EqualFold(q.Get("tag_mode"), "or"),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
	}

	hits, err := h.engine.Search(r.Context(), query, topK, preferRecent, filters, expandLinks)
	if err != nil {
		if errors.Is(err, apperr.ErrMissingPrerequisite) {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
			return
		}
		slog.Error("search failed", slog.String("query", query), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hits": hits,
	})
}

// Ask handles POST /api/ask.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Query        string `json:"query"`
		Graph        bool   `json:"graph"`
		Quiet        bool   `json:"quiet"`
		TemporalMode string `json:"temporal_mode"`
		UseSession   bool   `json:"session"`
		SessionID    string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query is required"))
		return
	}

	res, err := h.pipeline.Ask(r.Context(), ask.Options{
		Query:        req.Query,
		Graph:        req.Graph,
		Quiet:        req.Quiet,
		TemporalMode: req.TemporalMode,
		UseSession:   req.UseSession,
		SessionID:    req.SessionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrUnknownSession):
			writeJSON(w, http.StatusNotFound, errorBody("unknown session"))
		case errors.Is(err, apperr.ErrMissingPrerequisite):
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
		default:
			slog.Error("ask failed", slog.String("query", req.Query), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reindex handles POST /api/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	summary, err := h.indexer.Scan(r.Context())
	if err != nil {
		slog.Error("reindex failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Backlinks handles GET /api/backlinks.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		if path := r.URL.Query().Get("path"); path != "" {
			title = index.Title(path)
		}
	}
	if title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'title' or 'path' is required"))
		return
	}
	paths, err := h.db.Backlinks(title)
	if err != nil {
		slog.Error("backlinks failed", slog.String("title", title), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":     title,
		"backlinks": paths,
	})
}
