package registry

import "strconv"

// Terminal key prefixes, in derivation priority order.
const (
	keyEmulator   = "EMULATOR:"
	keyTTY        = "TTY:"
	keyPID        = "PID:"
	keyUnknown    = "UNKNOWN:"
	keyDiscovered = "DISCOVERED:"
)

// deriveTerminalKey picks the first identity rule that matches. The key must
// be stable for the same terminal across AI-tool restarts, so the emulator's
// own session id beats the tty, which beats the pid.
func deriveTerminalKey(t *TerminalIdentity, sessionID string, discovered bool) string {
	if discovered {
		if t != nil && t.PID > 0 {
			return keyDiscovered + strconv.Itoa(t.PID)
		}
		return keyDiscovered + idPrefix(sessionID)
	}
	if t != nil {
		if t.EmulatorID != "" {
			return keyEmulator + t.EmulatorID
		}
		if t.TTY != "" {
			return keyTTY + t.TTY
		}
		if t.PID > 0 {
			return keyPID + strconv.Itoa(t.PID)
		}
	}
	return keyUnknown + idPrefix(sessionID)
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
