// Package manifest resolves the precache asset lists: the same-origin shell
// paths that install must fetch atomically, and the cross-origin dependency
// URLs it fetches best-effort.
package manifest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/eugener/shellcache/internal/config"
)

// Manifest is the validated precache input for one install.
type Manifest struct {
	// Shell is the ordered same-origin path list. Order is preserved so the
	// entry document installs first and a failure log reads like the config.
	Shell []string
	// External is the cross-origin URL list.
	External []string
	// AppManifest is the path of the web app manifest, "" when unset.
	AppManifest string
}

// FromConfig validates the configured precache lists. Shell paths must be
// root-relative; external URLs must be absolute https. The mirror prefix
// carries no scheme and mirrored fetches are always https, so an http URL
// would precache an entry no request path can ever address.
func FromConfig(cfg config.PrecacheConfig) (*Manifest, error) {
	m := &Manifest{AppManifest: cfg.AppManifest}

	for _, p := range cfg.Shell {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("precache shell path %q is not root-relative", p)
		}
		m.Shell = append(m.Shell, p)
	}
	if cfg.AppManifest != "" && !strings.HasPrefix(cfg.AppManifest, "/") {
		return nil, fmt.Errorf("app_manifest path %q is not root-relative", cfg.AppManifest)
	}

	for _, raw := range cfg.External {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("precache external URL %q is not absolute https", raw)
		}
		m.External = append(m.External, raw)
	}
	return m, nil
}

// IconPaths extracts same-origin icon paths from web app manifest JSON.
// Relative srcs are rooted; absolute URLs point at other hosts and are not
// part of the shell, so they are skipped.
func IconPaths(data []byte) []string {
	var out []string
	gjson.GetBytes(data, "icons").ForEach(func(_, icon gjson.Result) bool {
		src := icon.Get("src").String()
		if src == "" {
			return true
		}
		if u, err := url.Parse(src); err != nil || u.IsAbs() {
			return true
		}
		if !strings.HasPrefix(src, "/") {
			src = "/" + src
		}
		out = append(out, src)
		return true
	})
	return out
}

// MergeShell appends extra paths to the shell list, skipping duplicates
// while keeping first-seen order.
func MergeShell(shell, extra []string) []string {
	seen := make(map[string]bool, len(shell)+len(extra))
	out := make([]string, 0, len(shell)+len(extra))
	for _, p := range append(append([]string{}, shell...), extra...) {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
