package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jacquesio/jacques/internal/errs"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 4777 {
		t.Errorf("APIPort = %d, want 4777", cfg.Server.APIPort)
	}
	if cfg.Server.WSPort != 4778 {
		t.Errorf("WSPort = %d, want 4778", cfg.Server.WSPort)
	}
	if cfg.Socket.Path != "/tmp/jacques.sock" {
		t.Errorf("Socket.Path = %q", cfg.Socket.Path)
	}
	if cfg.Registry.SubscriberQueue != 1024 {
		t.Errorf("SubscriberQueue = %d, want 1024", cfg.Registry.SubscriberQueue)
	}
	if len(cfg.Transcripts.ProcessNames) != 2 {
		t.Errorf("ProcessNames = %v", cfg.Transcripts.ProcessNames)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  api_port: 9001\nregistry:\n  janitor_interval: 5s\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIPort != 9001 {
		t.Errorf("APIPort = %d, want 9001", cfg.Server.APIPort)
	}
	if cfg.Registry.JanitorInterval != 5*time.Second {
		t.Errorf("JanitorInterval = %v, want 5s", cfg.Registry.JanitorInterval)
	}
	// Values absent from the file keep their defaults.
	if cfg.Server.WSPort != 4778 {
		t.Errorf("WSPort = %d, want 4778", cfg.Server.WSPort)
	}
	if cfg.Socket.Path != "/tmp/jacques.sock" {
		t.Errorf("Socket.Path = %q", cfg.Socket.Path)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed yaml")
	}
}

func TestWindowSize(t *testing.T) {
	cfg := defaults()
	cfg.Models["claude-sonnet-4"] = 1000000

	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4", 1000000},
		{"claude-sonnet-4-20250514", 1000000},
		{"claude-opus-3", 200000},
		{"", 200000},
	}
	for _, tt := range tests {
		if got := cfg.WindowSize(tt.model); got != tt.want {
			t.Errorf("WindowSize(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := DefaultSettings()
	if !s.Notifications.Enabled {
		t.Error("notifications disabled by default")
	}
	if s.Notifications.LargeOperationThreshold != 50000 {
		t.Errorf("LargeOperationThreshold = %d", s.Notifications.LargeOperationThreshold)
	}
	want := []int{50, 70, 90}
	if len(s.Notifications.ContextThresholds) != len(want) {
		t.Fatalf("ContextThresholds = %v", s.Notifications.ContextThresholds)
	}
	for i, v := range want {
		if s.Notifications.ContextThresholds[i] != v {
			t.Errorf("ContextThresholds[%d] = %d, want %d", i, s.Notifications.ContextThresholds[i], v)
		}
	}
	for _, cat := range []string{CategoryContext, CategoryOperation, CategoryPlan, CategoryAutoCompact, CategoryHandoff} {
		if !s.Notifications.Categories[cat] {
			t.Errorf("category %q not enabled by default", cat)
		}
	}
}

func TestSettingsRoundTripPreservesSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := DefaultSettings()
	s.Sources = json.RawMessage(`{"gdrive":{"folder":"abc","token":"xyz"}}`)

	if err := SaveSettings(path, s); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !bytes.Equal(compactJSON(t, got.Sources), compactJSON(t, s.Sources)) {
		t.Errorf("Sources = %s, want %s", got.Sources, s.Sources)
	}
	if got.Version == "" {
		t.Error("version not backfilled on save")
	}
}

func TestSettingsCategoryDisabled(t *testing.T) {
	s := DefaultSettings()
	s.Notifications.Categories[CategoryPlan] = false

	if s.CategoryEnabled(CategoryPlan) {
		t.Error("disabled category reported enabled")
	}
	if !s.CategoryEnabled(CategoryContext) {
		t.Error("untouched category reported disabled")
	}
	// Categories absent from the map default to enabled.
	delete(s.Notifications.Categories, CategoryHandoff)
	if !s.CategoryEnabled(CategoryHandoff) {
		t.Error("missing category reported disabled")
	}

	s.Notifications.Enabled = false
	if s.CategoryEnabled(CategoryContext) {
		t.Error("global switch off but category reported enabled")
	}
}

func TestLoadSettingsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadSettings(path)
	if err == nil {
		t.Fatal("LoadSettings accepted malformed json")
	}
	if errs.KindOf(err) != errs.Parse {
		t.Errorf("kind = %v, want Parse", errs.KindOf(err))
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !s.Notifications.Enabled {
		t.Error("missing file should yield defaults")
	}
}

func compactJSON(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact: %v", err)
	}
	return buf.Bytes()
}
