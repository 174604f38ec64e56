package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/paths"
)

// The AI tool compacts on its own around this usedPct even when autoCompact
// is switched off. Sessions carry the figure so clients can warn ahead of it.
const autoCompactBugThreshold = 78

const defaultAutocompactThreshold = 80

// ThresholdEnvVar overrides the tool's compaction threshold percent.
const ThresholdEnvVar = "CLAUDE_AUTOCOMPACT_THRESHOLD"

// loadToolSettings reads the AI tool's own settings file. A missing file or
// field means auto-compact is on (the tool's default); the threshold comes
// from the env override when set.
func loadToolSettings(path string) (enabled bool, threshold int) {
	enabled = true
	threshold = defaultAutocompactThreshold
	if env := os.Getenv(ThresholdEnvVar); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 && n <= 100 {
			threshold = n
		}
	}
	if path == "" {
		return enabled, threshold
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return enabled, threshold
	}
	if v := gjson.GetBytes(data, "autoCompact"); v.Exists() {
		enabled = v.Bool()
	}
	return enabled, threshold
}

// writeAutoCompact rewrites the settings file with the new autoCompact flag.
// The file belongs to the AI tool, so every field we do not understand
// survives the round trip byte-for-byte.
func writeAutoCompact(path string, enabled bool) error {
	const op = "registry.writeAutoCompact"
	if path == "" {
		return errs.New(errs.Invariant, op, "no settings path configured")
	}

	fields := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, &fields); jerr != nil {
			return errs.Wrap(errs.Parse, op, jerr)
		}
	case !os.IsNotExist(err):
		return errs.Wrap(errs.IO, op, err)
	}

	flag, err := json.Marshal(enabled)
	if err != nil {
		return errs.Wrap(errs.Invariant, op, err)
	}
	fields["autoCompact"] = flag

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Invariant, op, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	return paths.WriteFileAtomic(path, append(out, '\n'))
}
