package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	shell "github.com/eugener/shellcache/internal"
)

func newTestClient(baseURL string) *Client {
	return New(baseURL, 5*time.Second, 1<<20, nil)
}

func TestFetchPath_CredentialModes(t *testing.T) {
	t.Parallel()
	var gotCookie, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	in := httptest.NewRequest(http.MethodGet, "/page", nil)
	in.Header.Set("Cookie", "session=abc")
	in.Header.Set("Authorization", "Bearer tok")

	if _, err := c.FetchPath(context.Background(), "/page", IncludeCredentials, in); err != nil {
		t.Fatal(err)
	}
	if gotCookie != "session=abc" || gotAuth != "Bearer tok" {
		t.Errorf("include mode forwarded (%q, %q)", gotCookie, gotAuth)
	}

	if _, err := c.FetchPath(context.Background(), "/page", OmitCredentials, in); err != nil {
		t.Fatal(err)
	}
	if gotCookie != "" || gotAuth != "" {
		t.Errorf("omit mode leaked (%q, %q)", gotCookie, gotAuth)
	}
}

func TestFetch_NonOKIsEntryNotError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	e, err := c.FetchPath(context.Background(), "/missing.js", OmitCredentials, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", e.Status)
	}
	if e.Cacheable() {
		t.Error("404 entry must not be cacheable")
	}
}

func TestFetch_TransportErrorWrapped(t *testing.T) {
	t.Parallel()
	c := New("http://127.0.0.1:1", 500*time.Millisecond, 1<<20, nil)
	_, err := c.FetchPath(context.Background(), "/", OmitCredentials, nil)
	if !errors.Is(err, shell.ErrOriginUnreachable) {
		t.Errorf("err = %v, want ErrOriginUnreachable", err)
	}
}

func TestFetch_SanitizesHeaders(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "sid=1")
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Connection", "keep-alive")
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	e, err := c.FetchPath(context.Background(), "/", OmitCredentials, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Header.Get("Set-Cookie") != "" {
		t.Error("Set-Cookie must not be cached")
	}
	if e.Header.Get("Connection") != "" {
		t.Error("hop-by-hop headers must not be cached")
	}
	if e.Header.Get("Content-Type") != "text/html" {
		t.Errorf("content type = %q", e.Header.Get("Content-Type"))
	}
}

func TestFetch_BodyLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, 1024, nil)
	if _, err := c.FetchPath(context.Background(), "/big", OmitCredentials, nil); err == nil {
		t.Error("oversize body should error")
	}
}

func TestFetchURL_KeyIsAbsoluteURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("lib"))
	}))
	defer srv.Close()

	c := newTestClient("http://unused.invalid")
	e, err := c.FetchURL(context.Background(), srv.URL+"/lib.js")
	if err != nil {
		t.Fatal(err)
	}
	if e.URL != srv.URL+"/lib.js" {
		t.Errorf("key = %q", e.URL)
	}
	if string(e.Body) != "lib" {
		t.Errorf("body = %q", e.Body)
	}
}

func TestProxy_Passthrough(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body := make([]byte, 4)
		r.Body.Read(body)
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	r := httptest.NewRequest(http.MethodPost, "/todos", strings.NewReader("data"))
	w := httptest.NewRecorder()

	if err := c.Proxy(w, r, c.ProxyTarget("/todos")); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusCreated || w.Body.String() != "data" {
		t.Errorf("proxied = (%d, %q)", w.Code, w.Body.String())
	}
}

func TestProxyTarget(t *testing.T) {
	t.Parallel()
	c := newTestClient("http://origin:3000")
	if got := c.ProxyTarget("/api/todos"); got != "http://origin:3000/api/todos" {
		t.Errorf("same-origin target = %q", got)
	}
	if got := c.ProxyTarget("/ext/cdn.example/lib.js"); got != "https://cdn.example/lib.js" {
		t.Errorf("cross-origin target = %q", got)
	}
}
