// Package origin implements the upstream fetch client for the gateway.
// It speaks to two kinds of upstream: the first-party origin server that
// hosts the application shell, and arbitrary third-party hosts reached
// through the mirror prefix.
package origin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	shell "github.com/eugener/shellcache/internal"
)

// Credentials selects whether a fetch carries the caller's credentials.
type Credentials int

const (
	// OmitCredentials strips cookies and authorization. Used for every
	// cross-origin fetch and every background refresh.
	OmitCredentials Credentials = iota
	// IncludeCredentials forwards the incoming request's Cookie and
	// Authorization headers. Used only for cold same-origin fetches.
	IncludeCredentials
)

// Client fetches resources from the origin server and from mirrored
// cross-origin hosts.
type Client struct {
	baseURL string
	http    *http.Client
	maxBody int64
}

// New creates a Client with a tuned http.Client. baseURL is the first-party
// origin; it must not end in a slash ambiguity (trailing slashes are
// trimmed). If resolver is non-nil, the transport dials through cached DNS
// lookups.
func New(baseURL string, timeout time.Duration, maxBody int64, resolver *dnscache.Resolver) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: t, Timeout: timeout},
		maxBody: maxBody,
	}
}

// FetchPath fetches a root-relative path from the origin server. When creds
// is IncludeCredentials and from is non-nil, the incoming request's Cookie
// and Authorization headers are forwarded. A non-2xx response is returned
// as an entry, not an error; only transport failures error.
func (c *Client) FetchPath(ctx context.Context, pathAndQuery string, creds Credentials, from *http.Request) (*shell.Entry, error) {
	return c.fetch(ctx, pathAndQuery, c.baseURL+pathAndQuery, creds, from)
}

// FetchURL fetches an absolute cross-origin URL with credentials omitted.
func (c *Client) FetchURL(ctx context.Context, absURL string) (*shell.Entry, error) {
	return c.fetch(ctx, absURL, absURL, OmitCredentials, nil)
}

func (c *Client) fetch(ctx context.Context, key, url string, creds Credentials, from *http.Request) (*shell.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("origin: create request: %w", err)
	}
	if creds == IncludeCredentials && from != nil {
		if v := from.Header.Get("Cookie"); v != "" {
			req.Header.Set("Cookie", v)
		}
		if v := from.Header.Get("Authorization"); v != "" {
			req.Header.Set("Authorization", v)
		}
	}
	if from != nil {
		if v := from.Header.Get("Accept"); v != "" {
			req.Header.Set("Accept", v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shell.ErrOriginUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("origin: read body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("origin: response for %s exceeds %d bytes", key, c.maxBody)
	}

	return &shell.Entry{
		URL:       key,
		Status:    resp.StatusCode,
		Header:    sanitizeHeader(resp.Header),
		Body:      body,
		FetchedAt: time.Now(),
	}, nil
}

// Proxy forwards a request verbatim (method, headers, body) to target and
// streams the response back. Used for non-GET traffic, which is never
// cached.
func (c *Client) Proxy(w http.ResponseWriter, r *http.Request, target string) error {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return fmt.Errorf("origin: create request: %w", err)
	}
	req.Header = r.Header.Clone()
	stripHopByHop(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shell.ErrOriginUnreachable, err)
	}
	defer resp.Body.Close()

	h := w.Header()
	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		h[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

// ProxyTarget resolves the passthrough target URL for a request path.
func (c *Client) ProxyTarget(pathAndQuery string) string {
	if target, ok := shell.MirrorTarget(pathAndQuery); ok {
		return target
	}
	return c.baseURL + pathAndQuery
}

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func isHopByHop(key string) bool {
	return hopByHop[http.CanonicalHeaderKey(key)]
}

func stripHopByHop(h http.Header) {
	for k := range hopByHop {
		h.Del(k)
	}
}

// sanitizeHeader copies response headers into a cacheable form: hop-by-hop
// headers go because they describe the dead connection, Content-Length goes
// because it is recomputed on replay, and Set-Cookie goes because a shared
// cache must never replay one caller's cookies to another.
func sanitizeHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		if isHopByHop(k) || k == "Content-Length" || k == "Set-Cookie" {
			continue
		}
		out[k] = vv
	}
	return out
}
