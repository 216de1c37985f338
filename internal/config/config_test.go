package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shellcache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
origin:
  base_url: http://localhost:3000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Cache.Generation != "v1" {
		t.Errorf("generation = %q, want v1", cfg.Cache.Generation)
	}
	if cfg.Origin.MaxBodyBytes != 32<<20 {
		t.Errorf("max_body_bytes = %d", cfg.Origin.MaxBodyBytes)
	}
	if !cfg.FetchLog.Enabled || cfg.FetchLog.Retention != 7*24*time.Hour {
		t.Error("fetch log defaults not applied")
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  read_timeout: 5s
origin:
  base_url: http://origin:3000
  timeout: 10s
cache:
  generation: "2024-06-01"
precache:
  shell:
    - /
    - /app.js
  external:
    - https://cdn.example/lib.js
  app_manifest: /manifest.webmanifest
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Error("server overrides not applied")
	}
	if cfg.Cache.Generation != "2024-06-01" {
		t.Errorf("generation = %q", cfg.Cache.Generation)
	}
	if len(cfg.Precache.Shell) != 2 || cfg.Precache.Shell[1] != "/app.js" {
		t.Errorf("shell = %v", cfg.Precache.Shell)
	}
	if cfg.Precache.AppManifest != "/manifest.webmanifest" {
		t.Errorf("app_manifest = %q", cfg.Precache.AppManifest)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SHELLCACHE_TEST_KEY", "sk-secret")
	path := writeConfig(t, `
origin:
  base_url: http://localhost:3000
admin:
  key: ${SHELLCACHE_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Admin.Key != "sk-secret" {
		t.Errorf("admin key = %q, want expanded env value", cfg.Admin.Key)
	}
}

func TestLoad_UnsetEnvLeftVerbatim(t *testing.T) {
	path := writeConfig(t, `
origin:
  base_url: http://localhost:3000
admin:
  key: ${SHELLCACHE_DOES_NOT_EXIST}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Admin.Key != "${SHELLCACHE_DOES_NOT_EXIST}" {
		t.Errorf("admin key = %q, want verbatim placeholder", cfg.Admin.Key)
	}
}

func TestLoad_MissingOrigin(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
`)
	if _, err := Load(path); err == nil {
		t.Error("config without origin.base_url should fail validation")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load("/nonexistent/shellcache.yaml"); err == nil {
		t.Error("missing file should error")
	}
}
