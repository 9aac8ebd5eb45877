// Package gitclient clones DCC-EX product repositories and selects
// versions in them. Every repository call holds the Git gate.
package gitclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// Task names posted as message topics.
const (
	TaskClone = "clone_repo"
	TaskPull  = "pull"
)

// DefaultRemote is the remote every product repository is cloned from.
const DefaultRemote = "origin"

var (
	// ErrNotRepository is returned when a directory holds no repository.
	ErrNotRepository = errors.New("not a git repository")
	// ErrNotFastForward is returned when the local branch has diverged
	// from the remote one.
	ErrNotFastForward = errors.New("local branch cannot be fast-forwarded")
)

// ignoredFiles may be discarded without asking when they show up untracked.
var ignoredFiles = map[string]bool{
	".DS_Store": true,
}

// Client runs repository operations under a gate.
type Client struct {
	gate      *gate.Gate
	recorder  worker.Recorder
	timeLimit time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRecorder records clone and pull tasks.
func WithRecorder(r worker.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithTimeLimit bounds clone and pull tasks. Zero, the default, leaves
// them unbounded.
func WithTimeLimit(d time.Duration) Option {
	return func(c *Client) { c.timeLimit = d }
}

// New creates a Client holding g around repository calls.
func New(g *gate.Gate, opts ...Option) *Client {
	c := &Client{gate: g}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) locked(fn func() error) error {
	if err := c.gate.Acquire(context.Background()); err != nil {
		return err
	}
	defer c.gate.Release()
	return fn()
}

func (c *Client) start(name string, fn worker.CallFunc, q *worker.Queue) {
	opts := []worker.Option{worker.WithTimeLimit(c.timeLimit)}
	if c.recorder != nil {
		opts = append(opts, worker.WithRecorder(c.recorder))
	}
	task := worker.NewCallTask(name, c.gate, fn, q, opts...)
	if err := task.Start(); err != nil {
		slog.Error("failed to start git task", "task", name, "error", err)
	}
}

// DirIsGitRepo reports whether dir exists and contains a .git entry.
func DirIsGitRepo(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// GetRepo opens the repository in dir.
func (c *Client) GetRepo(dir string) (*git.Repository, error) {
	var repo *git.Repository
	err := c.locked(func() error {
		r, err := git.PlainOpen(dir)
		if errors.Is(err, git.ErrRepositoryNotExists) {
			slog.Error("not a repository", "dir", dir)
			return fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", dir, err)
		}
		repo = r
		return nil
	})
	return repo, err
}

// CloneRepo clones url into dir in the background. The repository is the
// success data.
func (c *Client) CloneRepo(url, dir string, q *worker.Queue) {
	c.start(TaskClone, func(ctx context.Context) (any, error) {
		slog.Info("cloning repository", "url", url, "dir", dir)
		_, statErr := os.Stat(dir)
		existed := statErr == nil
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
		if err != nil {
			removePartialClone(dir, existed)
			return nil, fmt.Errorf("failed to clone %s: %w", url, err)
		}
		return repo, nil
	}, q)
}

// removePartialClone deletes what a failed clone left in dir. A directory
// that existed before the clone is emptied rather than removed.
func removePartialClone(dir string, existed bool) {
	if !existed {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("failed to remove partial clone", "dir", dir, "error", err)
		}
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			slog.Error("failed to remove partial clone", "path", e.Name(), "error", err)
		}
	}
}

// PullLatest fetches remote changes and fast-forwards branch in the
// background.
func (c *Client) PullLatest(repo *git.Repository, branch string, q *worker.Queue) {
	c.start(TaskPull, func(ctx context.Context) (any, error) {
		return pull(ctx, repo, DefaultRemote, branch)
	}, q)
}

// Pull fetches remoteName and fast-forwards branch to it. It returns a
// short description of what happened.
func (c *Client) Pull(ctx context.Context, repo *git.Repository, remoteName, branch string) (string, error) {
	var out string
	err := c.locked(func() error {
		var err error
		out, err = pull(ctx, repo, remoteName, branch)
		return err
	})
	return out, err
}

func pull(ctx context.Context, repo *git.Repository, remoteName, branch string) (string, error) {
	slog.Debug("pull", "remote", remoteName, "branch", branch)
	err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remoteName, Tags: git.AllTags})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("failed to fetch %s: %w", remoteName, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return "", fmt.Errorf("no remote branch %s/%s: %w", remoteName, branch, err)
	}
	if err := checkoutBranch(repo, remoteName, branch); err != nil {
		return "", fmt.Errorf("failed to check out %s: %w", branch, err)
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	localRef, err := repo.Reference(branchRef, true)
	if err != nil {
		return "", fmt.Errorf("no branch %s: %w", branch, err)
	}
	if localRef.Hash() == remoteRef.Hash() {
		return "Already up to date", nil
	}

	local, err := repo.CommitObject(localRef.Hash())
	if err != nil {
		return "", err
	}
	remote, err := repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return "", err
	}
	if ahead, err := remote.IsAncestor(local); err == nil && ahead {
		return "Already up to date", nil
	}
	ff, err := local.IsAncestor(remote)
	if err != nil {
		return "", err
	}
	if !ff {
		slog.Error("pull is not a fast-forward", "branch", branch)
		return "", ErrNotFastForward
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.MergeReset}); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", branch, err)
	}
	slog.Debug("pulled latest updates", "branch", branch, "hash", remoteRef.Hash().String())
	return "Fast-forwarded to " + remoteRef.Hash().String()[:7], nil
}

// checkoutBranch switches HEAD to branch unless it is already there,
// creating the local branch from the remote one if needed.
func checkoutBranch(repo *git.Repository, remoteName, branch string) error {
	branchRef := plumbing.NewBranchReferenceName(branch)
	if head, err := repo.Head(); err == nil && head.Name() == branchRef {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	if _, err := repo.Reference(branchRef, true); err == nil {
		return wt.Checkout(&git.CheckoutOptions{Branch: branchRef})
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return fmt.Errorf("no branch %s: %w", branch, err)
	}
	slog.Debug("creating local branch", "branch", branch)
	return wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Hash: remoteRef.Hash(), Create: true})
}

// GetBranchRef returns the local branch reference called name.
func (c *Client) GetBranchRef(repo *git.Repository, name string) (*plumbing.Reference, error) {
	var ref *plumbing.Reference
	err := c.locked(func() error {
		r, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
		if err != nil {
			return fmt.Errorf("no branch %s: %w", name, err)
		}
		ref = r
		return nil
	})
	return ref, err
}

// CheckoutBranch switches to branch, creating it from the remote branch if
// there is no local copy yet.
func (c *Client) CheckoutBranch(repo *git.Repository, branch string) error {
	return c.locked(func() error {
		return checkoutBranch(repo, DefaultRemote, branch)
	})
}

// CheckoutRef checks out the commit ref points at, leaving HEAD detached.
// Annotated tags are peeled to their commit.
func (c *Client) CheckoutRef(repo *git.Repository, ref plumbing.ReferenceName) error {
	return c.locked(func() error {
		r, err := repo.Reference(ref, true)
		if err != nil {
			return fmt.Errorf("unknown ref %s: %w", ref, err)
		}
		hash := r.Hash()
		if tag, err := repo.TagObject(hash); err == nil {
			commit, err := tag.Commit()
			if err != nil {
				return fmt.Errorf("tag %s does not point at a commit: %w", ref, err)
			}
			hash = commit.Hash
		}
		wt, err := repo.Worktree()
		if err != nil {
			return err
		}
		slog.Debug("checkout", "ref", ref.String(), "hash", hash.String())
		return wt.Checkout(&git.CheckoutOptions{Hash: hash})
	})
}

// CheckLocalChanges lists files changed in the worktree as
// "<file> (Added|Deleted|Modified|Unknown)". Untracked files that should
// have been ignored are deleted first.
func (c *Client) CheckLocalChanges(repo *git.Repository) ([]string, error) {
	var changes []string
	err := c.locked(func() error {
		wt, err := repo.Worktree()
		if err != nil {
			return err
		}
		status, err := wt.Status()
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}

		discarded := false
		for file, st := range status {
			if st.Worktree == git.Untracked && ignoredFiles[filepath.Base(file)] {
				path := filepath.Join(wt.Filesystem.Root(), file)
				if err := os.Remove(path); err != nil {
					slog.Error("unable to delete ignored file", "path", path, "error", err)
					continue
				}
				slog.Info("ignored file discarded", "path", path)
				discarded = true
			}
		}
		if discarded {
			if status, err = wt.Status(); err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}
		}

		for file, st := range status {
			if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
				continue
			}
			changes = append(changes, fmt.Sprintf("%s (%s)", file, describeChange(st.Worktree)))
		}
		sort.Strings(changes)
		return nil
	})
	if len(changes) > 0 {
		slog.Error("local file changes", "changes", changes)
	}
	return changes, err
}

func describeChange(code git.StatusCode) string {
	switch code {
	case git.Untracked:
		return "Added"
	case git.Deleted:
		return "Deleted"
	case git.Modified:
		return "Modified"
	default:
		return "Unknown"
	}
}

// HardReset deletes untracked files and resets the worktree to HEAD.
func (c *Client) HardReset(repo *git.Repository) error {
	return c.locked(func() error {
		wt, err := repo.Worktree()
		if err != nil {
			return err
		}
		status, err := wt.Status()
		if err != nil {
			return fmt.Errorf("failed to read status: %w", err)
		}
		for file, st := range status {
			if st.Worktree != git.Untracked {
				continue
			}
			if err := os.Remove(filepath.Join(wt.Filesystem.Root(), file)); err != nil {
				return fmt.Errorf("failed to delete %s: %w", file, err)
			}
		}
		head, err := repo.Head()
		if err != nil {
			return fmt.Errorf("failed to read HEAD: %w", err)
		}
		slog.Info("hard reset", "hash", head.Hash().String())
		return wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset})
	})
}
