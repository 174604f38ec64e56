// Package terminal locates and focuses the tmux pane an observed session is
// running in. Resolution maps the session's process to a pane shell by
// walking parent PIDs; activation drives the tmux client.
package terminal

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Pane is one tmux pane and the shell PID running inside it.
type Pane struct {
	SessionName string
	WindowIndex int
	PaneIndex   int
	PanePID     int
	Target      string // "main:2.0", ready for tmux -t
}

// Resolver maps process PIDs to their containing tmux pane.
type Resolver struct {
	targetByPID map[int]string
	parent      func(pid int) int
}

// NewResolver queries tmux for the current pane table. Returns nil (not an
// error) when tmux is not installed or has no panes; Resolve on a nil
// resolver reports no match.
func NewResolver() *Resolver {
	panes, err := listPanes()
	if err != nil || len(panes) == 0 {
		return nil
	}
	return newResolver(panes, parentPID)
}

func newResolver(panes []Pane, parent func(int) int) *Resolver {
	targetByPID := make(map[int]string, len(panes))
	for _, p := range panes {
		targetByPID[p.PanePID] = p.Target
	}
	return &Resolver{targetByPID: targetByPID, parent: parent}
}

// Resolve walks from pid up the process tree looking for a pane shell PID.
// Stops after 10 ancestors to avoid runaway loops.
func (r *Resolver) Resolve(pid int) (string, bool) {
	if r == nil {
		return "", false
	}
	current := pid
	for i := 0; i < 10; i++ {
		if target, ok := r.targetByPID[current]; ok {
			return target, true
		}
		parent := r.parent(current)
		if parent <= 1 || parent == current {
			break
		}
		current = parent
	}
	return "", false
}

func listPanes() ([]Pane, error) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		return nil, err
	}
	out, err := exec.Command(path, "list-panes", "-a", "-F",
		"#{pane_pid}\t#{session_name}\t#{window_index}\t#{pane_index}").Output()
	if err != nil {
		return nil, err
	}
	return parsePanes(string(out)), nil
}

// parsePanes parses the tab-separated list-panes output, skipping malformed
// lines.
func parsePanes(output string) []Pane {
	var panes []Pane
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		winIdx, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		paneIdx, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		panes = append(panes, Pane{
			SessionName: fields[1],
			WindowIndex: winIdx,
			PaneIndex:   paneIdx,
			PanePID:     pid,
			Target:      fmt.Sprintf("%s:%d.%d", fields[1], winIdx, paneIdx),
		})
	}
	return panes
}

func parentPID(pid int) int {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ppid, err := p.Ppid()
	if err != nil {
		return 0
	}
	return int(ppid)
}
