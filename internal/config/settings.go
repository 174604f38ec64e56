package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
)

const settingsVersion = "1.0.0"

// Notification category names. These appear verbatim in config.json and in
// notification_fired messages.
const (
	CategoryContext     = "context"
	CategoryOperation   = "operation"
	CategoryPlan        = "plan"
	CategoryAutoCompact = "auto-compact"
	CategoryHandoff     = "handoff"
)

// Settings is the persisted user configuration at ~/.jacques/config.json.
// Sources is owned by external importers and passes through untouched.
type Settings struct {
	Version       string               `json:"version"`
	Notifications NotificationSettings `json:"notifications"`
	Sources       json.RawMessage      `json:"sources,omitempty"`
}

type NotificationSettings struct {
	Enabled                 bool            `json:"enabled"`
	Categories              map[string]bool `json:"categories"`
	LargeOperationThreshold int             `json:"largeOperationThreshold"`
	ContextThresholds       []int           `json:"contextThresholds"`
}

func DefaultSettings() *Settings {
	return &Settings{
		Version: settingsVersion,
		Notifications: NotificationSettings{
			Enabled: true,
			Categories: map[string]bool{
				CategoryContext:     true,
				CategoryOperation:   true,
				CategoryPlan:        true,
				CategoryAutoCompact: true,
				CategoryHandoff:     true,
			},
			LargeOperationThreshold: 50000,
			ContextThresholds:       []int{50, 70, 90},
		},
	}
}

// LoadSettings reads config.json, returning defaults when the file does not
// exist yet.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, errs.Wrap(errs.IO, "config.LoadSettings", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.Wrap(errs.Parse, "config.LoadSettings", err)
	}
	s.fillDefaults()
	return &s, nil
}

// SaveSettings writes config.json atomically, creating the directory when
// needed. Sources bytes survive the round trip unchanged.
func SaveSettings(path string, s *Settings) error {
	if s.Version == "" {
		s.Version = settingsVersion
	}
	s.fillDefaults()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Invariant, "config.SaveSettings", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, "config.SaveSettings", err)
	}
	return paths.WriteFileAtomic(path, data)
}

func (s *Settings) fillDefaults() {
	def := DefaultSettings()
	if s.Notifications.Categories == nil {
		s.Notifications.Categories = def.Notifications.Categories
	}
	if s.Notifications.LargeOperationThreshold == 0 {
		s.Notifications.LargeOperationThreshold = def.Notifications.LargeOperationThreshold
	}
	if len(s.Notifications.ContextThresholds) == 0 {
		s.Notifications.ContextThresholds = def.Notifications.ContextThresholds
	}
}

// CategoryEnabled honors both the global switch and the per-category one;
// categories missing from the map default to enabled.
func (s *Settings) CategoryEnabled(category string) bool {
	if !s.Notifications.Enabled {
		return false
	}
	enabled, ok := s.Notifications.Categories[category]
	if !ok {
		return true
	}
	return enabled
}
