package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	shell "github.com/eugener/shellcache/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeAdminError maps domain errors to client-visible messages. Install and
// validation failures carry useful detail; anything else is logged server-side
// and sanitized to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	switch {
	case status < http.StatusInternalServerError,
		errors.Is(err, shell.ErrInstallFailed),
		errors.Is(err, shell.ErrOriginUnreachable):
		writeJSON(w, status, errorResponse(err.Error()))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

func (s *server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := s.deps.Controller.Generations(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    gens,
		"current": s.deps.Controller.CurrentVersion(),
		"state":   s.deps.Controller.State().String(),
	})
}

// installRequest is the payload for deploying a new cache generation.
type installRequest struct {
	Version string `json:"version"`
}

func (s *server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Version == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("version is required"))
		return
	}
	if err := s.deps.Controller.InstallAndActivate(r.Context(), req.Version); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version": req.Version,
		"state":   s.deps.Controller.State().String(),
	})
}

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Controller.Purge(r.Context()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.FetchStats(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
