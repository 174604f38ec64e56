package terminal

import (
	"log/slog"
	"os/exec"
	"strings"

	"github.com/jacquesio/jacques/internal/errs"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/registry"
)

// Activator focuses the tmux pane a session runs in. The pane table is
// re-read on every call; panes move.
type Activator struct {
	resolve func(pid int) (string, bool)
	run     func(args ...string) error
	log     *slog.Logger
}

func NewActivator() *Activator {
	return &Activator{
		resolve: func(pid int) (string, bool) { return NewResolver().Resolve(pid) },
		run:     runTmux,
		log:     logging.Component("terminal"),
	}
}

// FocusSession brings the session's tmux pane to the front: switch the
// attached client to its tmux session, then select window and pane. Sessions
// without a resolvable pane get a NotFound error, which the caller reports
// back to the requesting client.
func (a *Activator) FocusSession(s *registry.Session) error {
	const op = "terminal.FocusSession"

	pid := sessionPID(s)
	if pid <= 0 {
		return errs.Newf(errs.NotFound, op, "session %s has no known process", s.ID)
	}
	target, ok := a.resolve(pid)
	if !ok {
		return errs.Newf(errs.NotFound, op, "session %s is not in a tmux pane", s.ID)
	}

	// switch-client fails when no client is attached; window and pane
	// selection still position the session for the next attach.
	if name, _, found := strings.Cut(target, ":"); found {
		if err := a.run("switch-client", "-t", name); err != nil {
			a.log.Debug("switch-client failed", "target", name, "error", err)
		}
	}
	if err := a.run("select-window", "-t", target); err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	if err := a.run("select-pane", "-t", target); err != nil {
		return errs.Wrap(errs.IO, op, err)
	}
	a.log.Debug("focused pane", "session", s.ID, "target", target)
	return nil
}

// sessionPID picks the most specific process id the hook reported. The
// terminal's own PID sits closest to the pane shell; the tool PID still
// resolves through the ancestor walk.
func sessionPID(s *registry.Session) int {
	if s.Terminal != nil && s.Terminal.PID > 0 {
		return s.Terminal.PID
	}
	return s.PID
}

func runTmux(args ...string) error {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return err
	}
	return exec.Command(path, args...).Run()
}
