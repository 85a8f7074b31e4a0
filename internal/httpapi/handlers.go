package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/service"
	"github.com/san-kum/bookshelf/internal/service/ingest"
	"github.com/san-kum/bookshelf/internal/service/search"
	"github.com/san-kum/bookshelf/internal/service/urlutil"
)

const maxRequestBody = 1 << 20

type handlers struct {
	bookmarks *service.BookmarkService
	search    *search.SearchService
	started   time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var verr *urlutil.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &verr), errors.Is(err, service.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

type ingestRequest struct {
	URLs        []string `json:"urls"`
	Tags        []string `json:"tags"`
	Concurrency int      `json:"concurrency"`
	SaveContent *bool    `json:"saveContent"`
}

type ingestEvent struct {
	Type     string           `json:"type"`
	Progress *ingest.Progress `json:"progress,omitempty"`
	Results  []ingest.Result  `json:"results,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ingest streams newline-delimited progress events and finishes with a
// single results event, or an error event when the batch aborts.
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.URLs) == 0 {
		badRequest(w, "urls must not be empty")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	emit := func(ev ingestEvent) {
		if err := enc.Encode(ev); err != nil {
			log.Debug().Err(err).Msg("Ingest stream write failed")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	results, err := h.bookmarks.Ingest(r.Context(), req.URLs, service.IngestOptions{
		Tags:        req.Tags,
		Concurrency: req.Concurrency,
		SaveContent: req.SaveContent,
		OnProgress: func(p ingest.Progress) {
			emit(ingestEvent{Type: "progress", Progress: &p})
		},
	})
	if err != nil {
		emit(ingestEvent{Type: "error", Error: err.Error()})
		return
	}
	emit(ingestEvent{Type: "results", Results: results})
}

func (h *handlers) list(w http.ResponseWriter, _ *http.Request) {
	bookmarks, err := h.bookmarks.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookmarks)
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	bookmark, err := h.bookmarks.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookmark)
}

func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	var update service.BookmarkUpdate
	if err := decodeBody(w, r, &update); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	bookmark, err := h.bookmarks.Update(chi.URLParam(r, "id"), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookmark)
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.bookmarks.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	bookmark, err := h.bookmarks.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookmark)
}

func (h *handlers) searchBookmarks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	mode, err := search.ParseMode(q.Get("mode"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	from, err := search.ParseBound(q.Get("from"), false)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	to, err := search.ParseBound(q.Get("to"), true)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			badRequest(w, "limit must be a non-negative integer")
			return
		}
	}

	results, err := h.search.Search(search.Query{
		Text:  q.Get("q"),
		Tags:  q["tag"],
		From:  from,
		To:    to,
		Mode:  mode,
		Limit: limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handlers) tags(w http.ResponseWriter, _ *http.Request) {
	tags, err := h.bookmarks.Tags()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *handlers) index(w http.ResponseWriter, _ *http.Request) {
	index, err := h.bookmarks.Index()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, index)
}
