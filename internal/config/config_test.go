package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCollectionPath(t *testing.T) {
	cfg := Default("app-7")
	if got := cfg.CollectionPath(); got != "artifacts/app-7/public/data/8d-reports" {
		t.Fatalf("collection path = %q", got)
	}
	cfg.Namespace = "custom/ns"
	if got := cfg.CollectionPath(); got != "custom/ns" {
		t.Fatalf("override ignored: %q", got)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
app:
  id: plant-3
auth:
  allow_anonymous: false
export:
  dir: /tmp/exports
webhooks:
  - url: https://example.test/hook
    events: [report.created, report.deleted]
    timeout_seconds: 3
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.App.ID != "plant-3" || cfg.Auth.AllowAnonymous {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].TimeoutSeconds != 3 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("app: [nope")); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file: cfg=%v err=%v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "eightd.yml"), []byte("app:\n  id: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil || cfg.App.ID != "x" {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}
