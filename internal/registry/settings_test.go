package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadToolSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file defaults on", func(t *testing.T) {
		enabled, threshold := loadToolSettings(filepath.Join(dir, "nope.json"))
		if !enabled || threshold != 80 {
			t.Errorf("got enabled=%v threshold=%d, want true/80", enabled, threshold)
		}
	})

	t.Run("explicit false", func(t *testing.T) {
		path := filepath.Join(dir, "settings.json")
		os.WriteFile(path, []byte(`{"autoCompact": false, "model": "opus"}`), 0o644)
		enabled, _ := loadToolSettings(path)
		if enabled {
			t.Error("enabled = true, want false")
		}
	})

	t.Run("env threshold override", func(t *testing.T) {
		t.Setenv(ThresholdEnvVar, "65")
		_, threshold := loadToolSettings("")
		if threshold != 65 {
			t.Errorf("threshold = %d, want 65", threshold)
		}
	})

	t.Run("bad env ignored", func(t *testing.T) {
		t.Setenv(ThresholdEnvVar, "not-a-number")
		_, threshold := loadToolSettings("")
		if threshold != 80 {
			t.Errorf("threshold = %d, want default 80", threshold)
		}
	})
}

func TestWriteAutoCompactPreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	original := `{
  "autoCompact": true,
  "model": "claude-opus-4",
  "permissions": {"allow": ["Bash(ls:*)"]},
  "env": {"FOO": "bar"}
}`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := writeAutoCompact(path, false); err != nil {
		t.Fatalf("writeAutoCompact: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("result not valid JSON: %v", err)
	}
	if string(got["autoCompact"]) != "false" {
		t.Errorf("autoCompact = %s, want false", got["autoCompact"])
	}
	for _, key := range []string{"model", "permissions", "env"} {
		if _, ok := got[key]; !ok {
			t.Errorf("field %q lost in rewrite", key)
		}
	}
	var perms struct {
		Allow []string `json:"allow"`
	}
	if err := json.Unmarshal(got["permissions"], &perms); err != nil || len(perms.Allow) != 1 {
		t.Errorf("permissions mangled: %s", got["permissions"])
	}
}

func TestWriteAutoCompactCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "settings.json")
	if err := writeAutoCompact(path, true); err != nil {
		t.Fatalf("writeAutoCompact: %v", err)
	}
	enabled, _ := loadToolSettings(path)
	if !enabled {
		t.Error("round trip lost the flag")
	}
}

func TestRecordAutoCompactToggleReflectsOnSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	r := New(Config{SettingsPath: path}, nil)
	r.Register(StartEvent{SessionID: "s1"})
	r.Register(StartEvent{SessionID: "s2"})

	if err := r.RecordAutoCompactToggle(false, 70); err != nil {
		t.Fatalf("RecordAutoCompactToggle: %v", err)
	}
	for _, s := range r.List() {
		if s.AutocompactEnabled {
			t.Errorf("session %s still enabled", s.ID)
		}
		if s.AutocompactThreshold != 70 {
			t.Errorf("session %s threshold = %d, want 70", s.ID, s.AutocompactThreshold)
		}
	}

	enabled, _ := loadToolSettings(path)
	if enabled {
		t.Error("settings file not persisted")
	}
}

func TestToggleAutoCompactFlips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	r := New(Config{SettingsPath: path}, nil)

	next, err := r.ToggleAutoCompact()
	if err != nil {
		t.Fatalf("ToggleAutoCompact: %v", err)
	}
	if next {
		t.Error("first toggle should disable (default is enabled)")
	}
	next, err = r.ToggleAutoCompact()
	if err != nil {
		t.Fatalf("second ToggleAutoCompact: %v", err)
	}
	if !next {
		t.Error("second toggle should re-enable")
	}
}
