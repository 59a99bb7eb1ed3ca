// Package vcs reads build provenance (commit hash and message) from the
// source tree the harness was started in.
package vcs

import (
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v6"
)

// ErrNotRepository is returned when the path is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Repo gives access to the HEAD commit of a repository.
type Repo struct {
	repo *gogit.Repository
}

// Open opens the repository containing path, walking up to find .git.
func Open(path string) (*Repo, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}
	return &Repo{repo: repo}, nil
}

// FromRepository wraps an already opened repository.
func FromRepository(repo *gogit.Repository) *Repo {
	return &Repo{repo: repo}
}

// CurrentCommitHash returns the hash of HEAD.
func (r *Repo) CurrentCommitHash() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// CurrentCommitMessage returns the message of the HEAD commit without the
// trailing newline.
func (r *Repo) CurrentCommitMessage() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	return strings.TrimRight(commit.Message, "\n"), nil
}

// Unknown is used when no repository is available. It reports the reason
// instead of provenance so the build info stays readable.
type Unknown struct {
	Err error
}

func (u Unknown) CurrentCommitHash() (string, error) {
	return "", u.Err
}

func (u Unknown) CurrentCommitMessage() (string, error) {
	return "", u.Err
}
