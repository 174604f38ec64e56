// Package gitmeta reads branch context for a project directory. Sessions
// carry it as descriptive metadata only.
package gitmeta

import (
	git "github.com/go-git/go-git/v5"
)

// Info describes the git state of a project directory.
type Info struct {
	Branch   string `json:"branch,omitempty"`
	Detached bool   `json:"detached,omitempty"`
}

// Lookup inspects dir for a git worktree, walking up to the enclosing repo.
// A non-repo, an unborn HEAD, or any read failure yields a zero Info.
func Lookup(dir string) Info {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Info{}
	}
	head, err := repo.Head()
	if err != nil {
		return Info{}
	}
	if !head.Name().IsBranch() {
		return Info{Detached: true, Branch: head.Hash().String()[:8]}
	}
	return Info{Branch: head.Name().Short()}
}
