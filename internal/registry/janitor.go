package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jacquesio/jacques/internal/logging"
)

// Janitor reaps sessions whose process has exited without sending a
// session_end. Sessions with no recorded PID are never touched; the hooks
// that registered them are the only authority on their lifetime.
type Janitor struct {
	reg      *Registry
	interval time.Duration
	alive    func(pid int) bool
	log      *slog.Logger
}

func NewJanitor(reg *Registry, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Janitor{
		reg:      reg,
		interval: interval,
		alive:    pidAlive,
		log:      logging.Component("janitor"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	for _, s := range j.reg.List() {
		if s.PID <= 0 || j.alive(s.PID) {
			continue
		}
		j.log.Info("reaping session with dead process", "session", s.ID, "pid", s.PID)
		j.reg.Reap(s.ID)
	}
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}
