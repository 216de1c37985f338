package manifest

import (
	"reflect"
	"testing"

	shell "github.com/eugener/shellcache/internal"
	"github.com/eugener/shellcache/internal/config"
)

func TestFromConfig_Valid(t *testing.T) {
	t.Parallel()
	m, err := FromConfig(config.PrecacheConfig{
		Shell:       []string{"/", "/app.js"},
		External:    []string{"https://cdn.example/lib.js"},
		AppManifest: "/manifest.webmanifest",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Shell) != 2 || len(m.External) != 1 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestFromConfig_RejectsRelativeShellPath(t *testing.T) {
	t.Parallel()
	if _, err := FromConfig(config.PrecacheConfig{Shell: []string{"app.js"}}); err == nil {
		t.Error("relative shell path should be rejected")
	}
}

func TestFromConfig_RejectsNonHTTPSExternal(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"/lib.js",
		"ftp://cdn.example/x",
		"http://cdn.example/lib.js",
		"https:///lib.js",
	} {
		if _, err := FromConfig(config.PrecacheConfig{External: []string{raw}}); err == nil {
			t.Errorf("external URL %q should be rejected", raw)
		}
	}
}

// Accepted external URLs must round-trip through the mirror: the key an
// install stores has to equal the key the serve path derives from the
// mirror request path, or the precached entry can never be hit.
func TestFromConfig_ExternalKeysMatchMirror(t *testing.T) {
	t.Parallel()
	m, err := FromConfig(config.PrecacheConfig{External: []string{
		"https://cdn.example/lib.js?v=2",
		"https://fonts.gstatic.com/s/inter/v13/inter.woff2",
	}})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range m.External {
		p, err := shell.MirrorPath(u)
		if err != nil {
			t.Fatalf("MirrorPath(%q): %v", u, err)
		}
		class, key := shell.Classify(p)
		if class != shell.ClassCrossOrigin || key != u {
			t.Errorf("Classify(%q) = (%v, %q), want (cross_origin, %q)", p, class, key, u)
		}
	}
}

func TestIconPaths(t *testing.T) {
	t.Parallel()
	data := []byte(`{
		"name": "todos",
		"icons": [
			{"src": "/icons/192.png", "sizes": "192x192"},
			{"src": "icons/512.png", "sizes": "512x512"},
			{"src": "https://cdn.example/icon.png"},
			{"sizes": "64x64"}
		]
	}`)
	got := IconPaths(data)
	want := []string{"/icons/192.png", "/icons/512.png"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("icons = %v, want %v", got, want)
	}
}

func TestIconPaths_NoIcons(t *testing.T) {
	t.Parallel()
	if got := IconPaths([]byte(`{"name": "todos"}`)); len(got) != 0 {
		t.Errorf("icons = %v, want none", got)
	}
}

func TestMergeShell(t *testing.T) {
	t.Parallel()
	got := MergeShell([]string{"/", "/app.js"}, []string{"/icons/192.png", "/app.js"})
	want := []string{"/", "/app.js", "/icons/192.png"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merged = %v, want %v", got, want)
	}
}
