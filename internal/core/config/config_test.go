package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sourceYAML = `
name: "retail"
base_dir: "exports"
manifest: "exports/manifest.json"
orders:
  templates: ["${baseDir}/${yyyy}/${mm}/line_items.csv"]
catalog:
  current: "catalog/current.csv"
`

func writeFixture(t *testing.T, configBody string) string {
	t.Helper()
	root := t.TempDir()
	sourcesDir := filepath.Join(root, "sources")
	requireNoError(t, os.MkdirAll(sourcesDir, 0o755))
	requireNoError(t, os.WriteFile(filepath.Join(sourcesDir, "retail.yaml"), []byte(sourceYAML), 0o644))

	cfgPath := filepath.Join(root, "orderlens.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(configBody, sourcesDir)), 0o644))
	return cfgPath
}

func TestLoad_ValidConfigAndSource(t *testing.T) {
	cfgPath := writeFixture(t, `
server:
  port: 9090
source:
  provider: "dir"
  root: "./data"
  definitions_dir: "%s"
  active: "retail"
catalog:
  ttl: "10m"
`)

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.ActiveSource.Name != "retail" {
		t.Fatalf("expected active source retail, got %q", cfg.ActiveSource.Name)
	}
	if cfg.Catalog.CatalogTTL() != 10*time.Minute {
		t.Fatalf("expected 10m ttl, got %s", cfg.Catalog.CatalogTTL())
	}
	if len(cfg.Index.DefaultDims) != 4 {
		t.Fatalf("expected 4 default index dims, got %v", cfg.Index.DefaultDims)
	}
	if cfg.Verification.RememberDecisions {
		t.Fatal("decision memo must be off by default")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  definitions_dir: "%s"
  active: "retail"
`)
	t.Setenv("ORDERLENS_ORDERS__LOAD_CONCURRENCY", "3")

	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if cfg.Orders.LoadConcurrency != 3 {
		t.Fatalf("expected env override to 3, got %d", cfg.Orders.LoadConcurrency)
	}
}

func TestLoad_InvalidCatalogTTLFailsStartup(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  definitions_dir: "%s"
  active: "retail"
catalog:
  ttl: "nope"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "invalid catalog.ttl") {
		t.Fatalf("expected invalid catalog.ttl error, got %v", err)
	}
}

func TestLoad_CatalogResolveInterval(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  definitions_dir: "%s"
  active: "retail"
catalog:
  ttl: "10m"
  resolve_interval: "30s"
`)
	cfg, err := Load(cfgPath)
	requireNoError(t, err)
	if got := cfg.Catalog.CatalogResolveInterval(); got != 30*time.Second {
		t.Fatalf("expected 30s resolve interval, got %s", got)
	}

	cfgPath = writeFixture(t, `
source:
  definitions_dir: "%s"
  active: "retail"
catalog:
  resolve_interval: "-1s"
`)
	_, err = Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "catalog.resolve_interval must be > 0") {
		t.Fatalf("expected resolve_interval error, got %v", err)
	}
}

func TestLoad_UnknownActiveSourceFailsStartup(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  definitions_dir: "%s"
  active: "wholesale"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), `no data source definition "wholesale"`) {
		t.Fatalf("expected missing source error, got %v", err)
	}
}

func TestLoad_UnsupportedProviderFailsStartup(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  provider: "ftp"
  definitions_dir: "%s"
  active: "retail"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported source.provider") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestLoad_GCSRequiresBucket(t *testing.T) {
	cfgPath := writeFixture(t, `
source:
  provider: "gcs"
  definitions_dir: "%s"
  active: "retail"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "source.bucket is required") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestLoad_InvalidServerPortFailsStartup(t *testing.T) {
	cfgPath := writeFixture(t, `
server:
  port: -1
source:
  definitions_dir: "%s"
  active: "retail"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "invalid server.port") {
		t.Fatalf("expected invalid server.port error, got %v", err)
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
