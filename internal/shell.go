// Package shell defines domain types and interfaces for the shellcache
// offline cache gateway. This package has no project imports -- it is the
// dependency root.
package shell

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// --- Cache entries and generations ---

// Entry is one cached response: body plus the headers needed to replay it.
type Entry struct {
	URL       string      `json:"url"`
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"-"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Cacheable reports whether the entry may be written to the cache store.
// Only successful responses are kept; an error page must never shadow a
// previously good asset.
func (e *Entry) Cacheable() bool {
	return e.Status >= 200 && e.Status < 300
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *Entry) Clone() *Entry {
	out := &Entry{
		URL:       e.URL,
		Status:    e.Status,
		Header:    e.Header.Clone(),
		Body:      make([]byte, len(e.Body)),
		FetchedAt: e.FetchedAt,
	}
	copy(out.Body, e.Body)
	return out
}

// Generation is one versioned snapshot of the cache contents. Exactly one
// generation is current at any time; the rest are stale and eligible for
// deletion on the next activation.
type Generation struct {
	Version   string    `json:"version"`
	Installed bool      `json:"installed"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Request classification ---

// RequestClass distinguishes first-party requests (proxied to the origin
// server) from mirrored third-party requests (fetched with credentials
// omitted). Derived per request, never stored.
type RequestClass int

const (
	ClassSameOrigin RequestClass = iota
	ClassCrossOrigin
)

func (c RequestClass) String() string {
	if c == ClassCrossOrigin {
		return "cross_origin"
	}
	return "same_origin"
}

// MirrorPrefix is the path prefix under which cross-origin dependencies are
// served. "/ext/<host>/<path>" maps to "https://<host>/<path>".
const MirrorPrefix = "/ext/"

// Classify derives the request class and canonical cache key for a request
// path (including any query string). For cross-origin requests the key is
// the absolute upstream URL; for same-origin requests it is the
// root-relative path.
func Classify(pathAndQuery string) (RequestClass, string) {
	if target, ok := MirrorTarget(pathAndQuery); ok {
		return ClassCrossOrigin, target
	}
	return ClassSameOrigin, pathAndQuery
}

// MirrorTarget resolves a mirror path to its absolute upstream URL.
// Returns false when the path is not under MirrorPrefix or names no host.
func MirrorTarget(pathAndQuery string) (string, bool) {
	rest, ok := strings.CutPrefix(pathAndQuery, MirrorPrefix)
	if !ok {
		return "", false
	}
	host, tail, found := strings.Cut(rest, "/")
	if host == "" {
		return "", false
	}
	if !found {
		tail = ""
	}
	return "https://" + host + "/" + tail, true
}

// MirrorPath maps an absolute cross-origin URL to the mirror path it is
// served under. The scheme is dropped: mirrored fetches are always HTTPS.
func MirrorPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", ErrBadRequest
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return MirrorPrefix + u.Host + p, nil
}

// --- Controller lifecycle ---

// State is the controller's lifecycle state, mirroring the worker lifecycle
// it implements: a new generation is installed, activated, and then serves
// traffic until superseded.
type State int32

const (
	StateStarting State = iota
	StateInstalling
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "starting"
	}
}

// --- Background refresh ---

// RefreshJob asks for one cache entry to be refetched in the background.
// Produced after a cache-first hit; consumed by the revalidator worker.
type RefreshJob struct {
	Generation string
	Key        string // canonical cache key (path or absolute URL)
	Class      RequestClass
}

// --- Fetch log ---

// CacheStatus records how a request was satisfied.
type CacheStatus string

const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass" // non-GET or no active generation
)

// FetchRecord is a single served-request event for the fetch log.
type FetchRecord struct {
	ID          string      `json:"id"`
	Key         string      `json:"key"`
	Class       string      `json:"class"`
	CacheStatus CacheStatus `json:"cache_status"`
	HTTPStatus  int         `json:"http_status"`
	LatencyMs   int         `json:"latency_ms"`
	RequestID   string      `json:"request_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// FetchStats is an aggregate over the fetch log, served by the admin API.
type FetchStats struct {
	Total  int64            `json:"total"`
	Hits   int64            `json:"hits"`
	Misses int64            `json:"misses"`
	Bypass int64            `json:"bypass"`
	Class  map[string]int64 `json:"by_class"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared helpers ---

// HashKey returns the hex-encoded SHA-256 hash of a raw admin key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
