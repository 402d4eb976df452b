package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseEmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Listen, DefaultListen)
	}
	if cfg.Database != DefaultDatabase {
		t.Errorf("Database = %q, want %q", cfg.Database, DefaultDatabase)
	}
	if cfg.ControlPlane.Endpoint != "" {
		t.Errorf("ControlPlane.Endpoint = %q, want empty", cfg.ControlPlane.Endpoint)
	}
	if cfg.ControlPlane.Timeout != DefaultControlPlaneTimeout {
		t.Errorf("ControlPlane.Timeout = %v, want %v", cfg.ControlPlane.Timeout, DefaultControlPlaneTimeout)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
}

func TestParseFullDocument(t *testing.T) {
	doc := `
listen: 127.0.0.1:9090
database: /var/lib/fleetd/fleet.db
control_plane:
  endpoint: https://cp.example.com/notify
  timeout: 3s
log:
  level: debug
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Database != "/var/lib/fleetd/fleet.db" {
		t.Errorf("Database = %q", cfg.Database)
	}
	if cfg.ControlPlane.Endpoint != "https://cp.example.com/notify" {
		t.Errorf("ControlPlane.Endpoint = %q", cfg.ControlPlane.Endpoint)
	}
	if cfg.ControlPlane.Timeout != 3*time.Second {
		t.Errorf("ControlPlane.Timeout = %v, want 3s", cfg.ControlPlane.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestParsePartialDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("listen: :9999\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen = %q, want :9999", cfg.Listen)
	}
	if cfg.Database != DefaultDatabase {
		t.Errorf("Database = %q, want default %q", cfg.Database, DefaultDatabase)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("listne: :8080\n")); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty listen", "listen: \"\"\n"},
		{"empty database", "database: \"\"\n"},
		{"zero timeout", "control_plane:\n  timeout: 0s\n"},
		{"bad log level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.doc)
			}
		})
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.yaml")
	if err := os.WriteFile(path, []byte("listen: :7070\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen != ":7070" {
		t.Errorf("Listen = %q, want :7070", cfg.Listen)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSlogLevelMapping(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.level}).SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
