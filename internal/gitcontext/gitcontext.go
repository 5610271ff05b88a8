// Package gitcontext gathers repository state for the Context phase:
// the current branch, dirty files, and recent commits of the workspace
// the request is operating on. It reads through go-git so the bridge
// never shells out to a git binary.
package gitcontext

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// DefaultMaxCommits bounds how much history Gather walks.
const DefaultMaxCommits = 10

// Commit is one entry of the recent-history slice.
type Commit struct {
	Hash    string    `json:"hash"`
	Summary string    `json:"summary"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Snapshot is the repository state handed to the planner as part of the
// context artifact.
type Snapshot struct {
	Branch        string   `json:"branch"`
	Detached      bool     `json:"detached"`
	DirtyFiles    []string `json:"dirty_files"`
	RecentCommits []Commit `json:"recent_commits"`
}

// Gather reads the repository at or above path. maxCommits <= 0 uses
// DefaultMaxCommits.
func Gather(path string, maxCommits int) (*Snapshot, error) {
	if maxCommits <= 0 {
		maxCommits = DefaultMaxCommits
	}

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}

	snap := &Snapshot{}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		snap.Branch = head.Name().Short()
	} else {
		snap.Branch = "detached"
		snap.Detached = true
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}
	for file, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			snap.DirtyFiles = append(snap.DirtyFiles, file)
		}
	}
	sort.Strings(snap.DirtyFiles)

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walking history: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if len(snap.RecentCommits) >= maxCommits {
			return storer.ErrStop
		}
		summary := c.Message
		for i := 0; i < len(summary); i++ {
			if summary[i] == '\n' {
				summary = summary[:i]
				break
			}
		}
		snap.RecentCommits = append(snap.RecentCommits, Commit{
			Hash:    c.Hash.String(),
			Summary: summary,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return nil, fmt.Errorf("reading commits: %w", err)
	}

	return snap, nil
}

// Describe returns the snapshot as JSON, the shape the router registers
// as (part of) the context artifact.
func (s *Snapshot) Describe() ([]byte, error) {
	return json.Marshal(s)
}
