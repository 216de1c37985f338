package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// FakeOrigin is an httptest-backed origin server with mutable content,
// used to exercise install and stale-while-revalidate paths.
type FakeOrigin struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	hits   map[string]int
}

// NewFakeOrigin starts a FakeOrigin. Unknown paths return 404.
func NewFakeOrigin() *FakeOrigin {
	f := &FakeOrigin{
		bodies: make(map[string]string),
		status: make(map[string]int),
		hits:   make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *FakeOrigin) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	path := r.URL.RequestURI()
	f.hits[path]++
	body, ok := f.bodies[path]
	code := f.status[path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	w.Write([]byte(body))
}

// Set assigns the body served for a path (including any query string).
func (f *FakeOrigin) Set(path, body string) {
	f.mu.Lock()
	f.bodies[path] = body
	f.mu.Unlock()
}

// SetStatus assigns the status code served for a path.
func (f *FakeOrigin) SetStatus(path string, code int) {
	f.mu.Lock()
	f.status[path] = code
	f.mu.Unlock()
}

// Remove makes a path 404 again.
func (f *FakeOrigin) Remove(path string) {
	f.mu.Lock()
	delete(f.bodies, path)
	delete(f.status, path)
	f.mu.Unlock()
}

// Hits returns how many times a path was requested.
func (f *FakeOrigin) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}
