package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettelink/internal/embedsync"
	"github.com/starford/zettelink/internal/noteservice"
)

// Events receives note events and sync summaries from API-triggered runs.
type Events interface {
	NoteEvent(kind, rel string)
	PublishSummary(sum embedsync.Summary)
}

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	events Events
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(svc *noteservice.Service, events Events) *Handler {
	return &Handler{svc: svc, events: events}
}

// notePath extracts the note reference from the URL (everything after /api/related/).
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// floatParam parses an optional float query parameter; absent means nil.
func floatParam(r *http.Request, name string) (*float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, errors.New("query parameter '" + name + "' must be a number")
	}
	return &f, nil
}

// Search handles GET /api/search.
//
//	@Summary		Semantic search across cached notes
//	@Tags			search
//	@Produce		json
//	@Param			q	query		string	true	"Search query"
//	@Param			k	query		int		false	"Number of results"
//	@Success		200	{object}	SearchResponse
//	@Failure		400	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	res, err := h.svc.Search(r.Context(), q, k)
	if err != nil {
		writeServiceError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Report)
}

// StoredLinks handles GET /api/links.
//
//	@Summary		Link graph from the last recompute
//	@Tags			links
//	@Produce		json
//	@Success		200	{object}	LinksResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [get]
func (h *Handler) StoredLinks(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.StoredLinks(r.Context())
	if err != nil {
		writeServiceError(w, "stored links", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Report)
}

// Links handles POST /api/links.
//
//	@Summary		Recompute the link graph and rewrite links.json
//	@Tags			links
//	@Produce		json
//	@Param			threshold		query		number	false	"Minimum similarity"
//	@Param			max_threshold	query		number	false	"Near-duplicate cutoff"
//	@Success		200				{object}	LinksResponse
//	@Failure		409				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [post]
func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	threshold, err := floatParam(r, "threshold")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	maxThreshold, err := floatParam(r, "max_threshold")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.Links(r.Context(), threshold, maxThreshold)
	if err != nil {
		writeServiceError(w, "links", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Report)
}

// Related handles GET /api/related/*.
//
//	@Summary		Notes related to one note
//	@Tags			links
//	@Produce		json
//	@Param			note		path		string	true	"Note path, path without extension, or stem"
//	@Param			threshold	query		number	false	"Minimum similarity"
//	@Success		200			{object}	RelatedResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/related/{note} [get]
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	note := notePath(r)
	if note == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("note is required"))
		return
	}
	threshold, err := floatParam(r, "threshold")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	rec, neighbors, err := h.svc.Related(r.Context(), note, threshold, nil)
	if err != nil {
		writeServiceError(w, "related", err)
		return
	}
	used := h.svc.Settings().Threshold
	if threshold != nil {
		used = *threshold
	}
	writeJSON(w, http.StatusOK, RelatedResponse{
		Stem:      rec.Stem,
		Rel:       rec.Rel,
		Path:      rec.Path,
		Threshold: used,
		Neighbors: neighbors,
	})
}

// Embed handles POST /api/embed.
//
//	@Summary		Bring the embedding cache up to date
//	@Tags			cache
//	@Accept			json
//	@Produce		json
//	@Param			body	body		EmbedRequest	false	"Options"
//	@Success		200		{object}	embedsync.Summary
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/embed [post]
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	var cb embedsync.EventCallback
	if h.events != nil {
		cb = h.events.NoteEvent
	}
	sum, err := h.svc.Embed(r.Context(), req.Force, cb)
	if err != nil {
		writeServiceError(w, "embed", err)
		return
	}
	if h.events != nil {
		h.events.PublishSummary(sum)
	}
	writeJSON(w, http.StatusOK, sum)
}

// CacheInfo handles GET /api/cache.
//
//	@Summary		Describe the embedding cache
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	CacheInfoResponse
//	@Security		BearerAuth
//	@Router			/cache [get]
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.CacheInfo(r.Context())
	if err != nil {
		writeServiceError(w, "cache info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
