package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/origin"
)

// Pre-allocated X-Cache values, same trick as jsonCT.
var (
	xCacheHit  = []string{"hit"}
	xCacheMiss = []string{"miss"}
)

// handleFetch is the catch-all application handler. GET traffic is served
// cache-first with background revalidation; everything else is proxied
// verbatim and never touches the cache.
func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.passthrough(w, r)
		return
	}

	start := time.Now()
	pq := r.URL.RequestURI()
	class, key := shell.Classify(pq)

	e, ok, err := s.deps.Controller.Lookup(r.Context(), key)
	if err != nil {
		// A broken store read degrades to a cold fetch, not an error page.
		slog.LogAttrs(r.Context(), slog.LevelWarn, "cache lookup failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	if ok {
		writeEntry(w, e, xCacheHit)
		s.deps.Controller.ScheduleRefresh(key, class)
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheHits.WithLabelValues(class.String()).Inc()
		}
		s.record(r, key, class, shell.CacheHit, e.Status, start)
		return
	}

	// Pass-through mode: no active generation, nothing to miss against.
	if s.deps.Controller.CurrentVersion() == "" {
		s.passthrough(w, r)
		return
	}

	s.coldFetch(w, r, key, class, start)
}

// coldFetch fetches a missed GET synchronously, serves it, and caches it
// for the next request. Same-origin cold fetches are the only fetches that
// forward the caller's credentials.
func (s *server) coldFetch(w http.ResponseWriter, r *http.Request, key string, class shell.RequestClass, start time.Time) {
	originStart := time.Now()
	var e *shell.Entry
	var err error
	if class == shell.ClassCrossOrigin {
		e, err = s.deps.Origin.FetchURL(r.Context(), key)
	} else {
		e, err = s.deps.Origin.FetchPath(r.Context(), key, origin.IncludeCredentials, r)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.OriginDuration.WithLabelValues(class.String()).Observe(time.Since(originStart).Seconds())
	}
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.OriginErrors.WithLabelValues(class.String()).Inc()
		}
		slog.LogAttrs(r.Context(), slog.LevelWarn, "cold fetch failed",
			slog.String("key", key),
			slog.String("class", class.String()),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse("origin unreachable"))
		s.record(r, key, class, shell.CacheMiss, http.StatusBadGateway, start)
		return
	}

	writeEntry(w, e, xCacheMiss)
	if s.deps.Metrics != nil {
		s.deps.Metrics.CacheMisses.WithLabelValues(class.String()).Inc()
	}
	if err := s.deps.Controller.StoreEntry(r.Context(), e); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelWarn, "cache store failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	s.record(r, key, class, shell.CacheMiss, e.Status, start)
}

// passthrough proxies the request verbatim. Used for every non-GET request
// and for GETs while no generation is active.
func (s *server) passthrough(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	pq := r.URL.RequestURI()
	class, key := shell.Classify(pq)

	if err := s.deps.Origin.Proxy(w, r, s.deps.Origin.ProxyTarget(pq)); err != nil {
		// Unreachable fails before headers are written; a mid-stream copy
		// error leaves the response half-sent and can only be logged.
		if errors.Is(err, shell.ErrOriginUnreachable) {
			writeJSON(w, http.StatusBadGateway, errorResponse("origin unreachable"))
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.OriginErrors.WithLabelValues(class.String()).Inc()
		}
		slog.LogAttrs(r.Context(), slog.LevelWarn, "passthrough failed",
			slog.String("method", r.Method),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		s.record(r, key, class, shell.CacheBypass, http.StatusBadGateway, start)
		return
	}
	s.record(r, key, class, shell.CacheBypass, responseStatus(w, http.StatusOK), start)
}

// responseStatus reads the status captured by the logging middleware's
// statusWriter, for handlers that delegate the write (passthrough).
func responseStatus(w http.ResponseWriter, fallback int) int {
	if sw, ok := w.(*statusWriter); ok && sw.wroteHeader {
		return sw.status
	}
	return fallback
}

// writeEntry replays a cached entry: stored headers, X-Cache marker, status,
// body.
func writeEntry(w http.ResponseWriter, e *shell.Entry, xcache []string) {
	h := w.Header()
	for k, vv := range e.Header {
		h[k] = vv
	}
	h["X-Cache"] = xcache
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// record enqueues a fetch-log event. No-op when fetch logging is disabled.
func (s *server) record(r *http.Request, key string, class shell.RequestClass, cs shell.CacheStatus, status int, start time.Time) {
	if s.deps.FetchLog == nil {
		return
	}
	s.deps.FetchLog.Record(shell.FetchRecord{
		Key:         key,
		Class:       class.String(),
		CacheStatus: cs,
		HTTPStatus:  status,
		LatencyMs:   int(time.Since(start).Milliseconds()),
		RequestID:   shell.RequestIDFromContext(r.Context()),
		CreatedAt:   time.Now(),
	})
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, shell.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shell.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shell.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shell.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, shell.ErrInstallFailed), errors.Is(err, shell.ErrOriginUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
