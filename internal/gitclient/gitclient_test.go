package gitclient

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/dcc-ex/exinstaller/internal/gate"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

var sig = &object.Signature{Name: "DCC-EX", Email: "support@dcc-ex.com", When: time.Unix(1700000000, 0)}

// newRepo creates a repository with one committed file.
func newRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit failed: %v", err)
	}
	commitFile(t, repo, dir, "CommandStation-EX.ino", "void setup() {}\n")
	return repo, dir
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, body string) plumbing.Hash {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit("update "+name, &git.CommitOptions{Author: sig})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return hash
}

func requireGitTransport(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("git-upload-pack not available for file transport")
	}
}

func TestDirIsGitRepo(t *testing.T) {
	_, dir := newRepo(t)
	if !DirIsGitRepo(dir) {
		t.Error("Expected repository to be detected")
	}
	if DirIsGitRepo(t.TempDir()) {
		t.Error("Empty directory is not a repository")
	}
	if DirIsGitRepo(filepath.Join(t.TempDir(), "missing")) {
		t.Error("Missing directory is not a repository")
	}
}

func TestGetRepo(t *testing.T) {
	c := New(gate.New("git"))
	_, dir := newRepo(t)
	if _, err := c.GetRepo(dir); err != nil {
		t.Errorf("GetRepo failed: %v", err)
	}
	if _, err := c.GetRepo(t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Errorf("Expected ErrNotRepository, got %v", err)
	}
}

func TestCheckLocalChanges(t *testing.T) {
	c := New(gate.New("git"))
	repo, dir := newRepo(t)

	changes, err := c.CheckLocalChanges(repo)
	if err != nil {
		t.Fatalf("CheckLocalChanges failed: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("Expected clean repository, got %v", changes)
	}

	os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "CommandStation-EX.ino"), []byte("changed\n"), 0644)
	os.WriteFile(filepath.Join(dir, "myAutomation.h"), []byte("SEQUENCE(1)\n"), 0644)

	changes, err = c.CheckLocalChanges(repo)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"CommandStation-EX.ino (Modified)", "myAutomation.h (Added)"}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("Expected %v, got %v", want, changes)
	}
	if _, err := os.Stat(filepath.Join(dir, ".DS_Store")); !os.IsNotExist(err) {
		t.Error("Expected .DS_Store to be discarded")
	}
}

func TestHardReset(t *testing.T) {
	c := New(gate.New("git"))
	repo, dir := newRepo(t)
	os.WriteFile(filepath.Join(dir, "CommandStation-EX.ino"), []byte("changed\n"), 0644)
	os.WriteFile(filepath.Join(dir, "extra.h"), []byte("x"), 0644)

	if err := c.HardReset(repo); err != nil {
		t.Fatalf("HardReset failed: %v", err)
	}
	changes, err := c.CheckLocalChanges(repo)
	if err != nil || len(changes) != 0 {
		t.Errorf("Expected clean repository after reset, got %v (%v)", changes, err)
	}
	body, _ := os.ReadFile(filepath.Join(dir, "CommandStation-EX.ino"))
	if string(body) != "void setup() {}\n" {
		t.Errorf("Expected file to be restored, got %q", body)
	}
}

func TestVersions(t *testing.T) {
	c := New(gate.New("git"))
	repo, dir := newRepo(t)

	tags := []string{"v4.2.1-Prod", "v5.0.0-Devel", "v4.10.0-Prod", "v5.0.0-Prod", "not-a-version"}
	for i, tag := range tags {
		hash := commitFile(t, repo, dir, "version.h", tag+"\n")
		var opts *git.CreateTagOptions
		if i%2 == 0 {
			opts = &git.CreateTagOptions{Tagger: sig, Message: tag}
		}
		if _, err := repo.CreateTag(tag, hash, opts); err != nil {
			t.Fatalf("CreateTag failed: %v", err)
		}
	}

	versions, err := c.GetRepoVersions(repo)
	if err != nil {
		t.Fatalf("GetRepoVersions failed: %v", err)
	}
	var names []string
	for _, v := range versions {
		names = append(names, v.Name)
	}
	want := []string{"v5.0.0-Prod", "v5.0.0-Devel", "v4.10.0-Prod", "v4.2.1-Prod"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Expected %v, got %v", want, names)
	}

	prod, ok, err := c.GetLatestProd(repo)
	if err != nil || !ok || prod.Name != "v5.0.0-Prod" {
		t.Errorf("Unexpected latest prod %+v (%v, %v)", prod, ok, err)
	}
	devel, ok, err := c.GetLatestDevel(repo)
	if err != nil || !ok || devel.Ref != plumbing.NewTagReferenceName("v5.0.0-Devel") {
		t.Errorf("Unexpected latest devel %+v (%v, %v)", devel, ok, err)
	}

	// v4.2.1-Prod is annotated: checkout must peel it.
	if err := c.CheckoutRef(repo, plumbing.NewTagReferenceName("v4.2.1-Prod")); err != nil {
		t.Fatalf("CheckoutRef failed: %v", err)
	}
	body, _ := os.ReadFile(filepath.Join(dir, "version.h"))
	if string(body) != "v4.2.1-Prod\n" {
		t.Errorf("Expected v4.2.1 sources, got %q", body)
	}

	if _, ok := c.DevelBranch(repo); ok {
		t.Error("Repository has no devel branch")
	}
}

func TestExtractVersionDetails(t *testing.T) {
	major, minor, patch, ok := ExtractVersionDetails("v5.2.76-Devel")
	if !ok || major != 5 || minor != 2 || patch != 76 {
		t.Errorf("Unexpected details %d.%d.%d (%v)", major, minor, patch, ok)
	}
	if _, _, _, ok := ExtractVersionDetails("devel"); ok {
		t.Error("Expected no match")
	}
}

func TestCloneAndPull(t *testing.T) {
	requireGitTransport(t)
	c := New(gate.New("git"))
	origin, originDir := newRepo(t)

	q := worker.NewQueue()
	dest := filepath.Join(t.TempDir(), "CommandStation-EX")
	c.CloneRepo(originDir, dest, q)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	msg, err := poller.Await(ctx, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusSuccess || msg.Topic != TaskClone {
		t.Fatalf("Clone failed: %+v", msg)
	}
	clone, ok := msg.Data.(*git.Repository)
	if !ok {
		t.Fatalf("Expected repository data, got %T", msg.Data)
	}

	head, err := origin.Head()
	if err != nil {
		t.Fatal(err)
	}
	branch := head.Name().Short()
	if err := c.CheckoutBranch(clone, branch); err != nil {
		t.Fatalf("CheckoutBranch failed: %v", err)
	}

	out, err := c.Pull(ctx, clone, DefaultRemote, branch)
	if err != nil || out != "Already up to date" {
		t.Errorf("Expected up to date, got %q (%v)", out, err)
	}

	newHash := commitFile(t, origin, originDir, "config.example.h", "#define IP_PORT 2560\n")
	c.PullLatest(clone, branch, q)
	msg, err = poller.Await(ctx, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusSuccess || msg.Topic != TaskPull {
		t.Fatalf("Pull failed: %+v", msg)
	}
	cloneHead, _ := clone.Head()
	if cloneHead.Hash() != newHash {
		t.Errorf("Expected HEAD %s, got %s", newHash, cloneHead.Hash())
	}
}

func TestPull_NotFastForward(t *testing.T) {
	requireGitTransport(t)
	c := New(gate.New("git"))
	origin, originDir := newRepo(t)

	dest := filepath.Join(t.TempDir(), "clone")
	clone, err := git.PlainClone(dest, false, &git.CloneOptions{URL: originDir})
	if err != nil {
		t.Fatal(err)
	}
	head, _ := origin.Head()
	branch := head.Name().Short()

	commitFile(t, origin, originDir, "a.h", "a\n")
	commitFile(t, clone, dest, "b.h", "b\n")

	if _, err := c.Pull(context.Background(), clone, DefaultRemote, branch); !errors.Is(err, ErrNotFastForward) {
		t.Errorf("Expected ErrNotFastForward, got %v", err)
	}
}

func TestPull_FromDetachedDevelTag(t *testing.T) {
	requireGitTransport(t)
	c := New(gate.New("git"))
	origin, originDir := newRepo(t)
	head, _ := origin.Head()
	branch := head.Name().Short()

	wt, err := origin.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("devel"), Create: true}); err != nil {
		t.Fatal(err)
	}
	develHash := commitFile(t, origin, originDir, "version.h", "v5.1.0-Devel\n")
	if _, err := origin.CreateTag("v5.1.0-Devel", develHash, nil); err != nil {
		t.Fatal(err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: head.Name()}); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "clone")
	clone, err := git.PlainClone(dest, false, &git.CloneOptions{URL: originDir})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CheckoutRef(clone, plumbing.NewTagReferenceName("v5.1.0-Devel")); err != nil {
		t.Fatal(err)
	}
	newHash := commitFile(t, origin, originDir, "config.example.h", "#define IP_PORT 2560\n")

	out, err := c.Pull(context.Background(), clone, DefaultRemote, branch)
	if err != nil {
		t.Fatalf("Pull from a detached tag failed: %v", err)
	}
	if out != "Fast-forwarded to "+newHash.String()[:7] {
		t.Errorf("Unexpected pull result %q", out)
	}
	cloneHead, err := clone.Head()
	if err != nil {
		t.Fatal(err)
	}
	if cloneHead.Name() != head.Name() || cloneHead.Hash() != newHash {
		t.Errorf("Expected %s at %s, got %s at %s", head.Name(), newHash, cloneHead.Name(), cloneHead.Hash())
	}
	if _, err := os.Stat(filepath.Join(dest, "version.h")); !os.IsNotExist(err) {
		t.Error("Development sources should be gone after switching back to the branch")
	}
}

func TestCloneRepo_FailureRemovesPartialClone(t *testing.T) {
	c := New(gate.New("git"))
	if c.timeLimit != 0 {
		t.Errorf("Git tasks should be unbounded by default, got %v", c.timeLimit)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	missing := filepath.Join(t.TempDir(), "no-such-repo")

	q := worker.NewQueue()
	dest := filepath.Join(t.TempDir(), "CommandStation-EX")
	c.CloneRepo(missing, dest, q)
	msg, err := poller.Await(ctx, q, nil)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Status != models.StatusError || msg.Topic != TaskClone {
		t.Fatalf("Expected the clone to fail, got %+v", msg)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("Expected the partial clone to be removed")
	}

	existing := t.TempDir()
	c.CloneRepo(missing, existing, q)
	msg, err = poller.Await(ctx, q, nil)
	if err != nil || msg.Status != models.StatusError {
		t.Fatalf("Expected the clone to fail, got %+v (%v)", msg, err)
	}
	info, err := os.Stat(existing)
	if err != nil || !info.IsDir() {
		t.Fatalf("A directory that existed before the clone must stay: %v", err)
	}
	if entries, _ := os.ReadDir(existing); len(entries) != 0 {
		t.Errorf("Expected the directory emptied, found %d entries", len(entries))
	}
}
