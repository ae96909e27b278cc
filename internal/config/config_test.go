package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Stepgraph/internal/engine"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("expected api port 8080, got %d", cfg.API.Port)
	}
	if cfg.DB.MaxConns != 10 {
		t.Errorf("expected max conns 10, got %d", cfg.DB.MaxConns)
	}
	if cfg.Policy().Policy != engine.PolicyStrict {
		t.Errorf("expected strict policy, got %s", cfg.Policy().Policy)
	}
	if cfg.File != "" {
		t.Errorf("expected no config file, got %s", cfg.File)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STEPGRAPH_API_PORT", "9000")
	t.Setenv("STEPGRAPH_ENGINE_REFERENCE_POLICY", "implicit")
	t.Setenv("DB_URL", "postgresql://u:p@db:5432/x")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIAddr() != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.APIAddr())
	}
	if cfg.Policy().Policy != engine.PolicyImplicit {
		t.Errorf("expected implicit policy, got %s", cfg.Policy().Policy)
	}
	if cfg.DB.URL != "postgresql://u:p@db:5432/x" {
		t.Errorf("expected DB_URL to be used, got %s", cfg.DB.URL)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Log.Format)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stepgraph.yaml")
	content := `
validator:
  port: 9100
  prefetch: 3
  audit_cron: "@hourly"
log:
  level: DEBUG
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ValidatorAddr() != ":9100" || cfg.Validator.Prefetch != 3 {
		t.Errorf("unexpected validator config %+v", cfg.Validator)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.File != path {
		t.Errorf("expected file %s, got %s", path, cfg.File)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"policy", map[string]string{"STEPGRAPH_ENGINE_REFERENCE_POLICY": "loose"}},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"prefetch", map[string]string{"STEPGRAPH_VALIDATOR_PREFETCH": "0"}},
		{"cron", map[string]string{"STEPGRAPH_VALIDATOR_AUDIT_CRON": "every day"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit file")
	}
}
