// Package git reads repository head metadata for run records and reports.
package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository indicates the path is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Info identifies the repository head at the time of a run.
type Info struct {
	Branch string // empty for detached HEAD
	Commit string // short hash
}

// Head returns head info for the repository containing path.
// walks up to the enclosing .git the way the git CLI does; returns
// ErrNotRepository when there is none, so callers can treat it as optional.
func Head(path string) (Info, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return Info{}, ErrNotRepository
		}
		return Info{}, fmt.Errorf("open repository at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Info{}, nil // empty repository, no commits yet
		}
		return Info{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	info := Info{Commit: head.Hash().String()[:7]}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info, nil
}
