package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dcc-ex/exinstaller/internal/gitclient"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage DCC-EX product repositories",
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the products the installer knows",
	RunE:  runProductList,
}

var productSetupCmd = &cobra.Command{
	Use:   "setup [product]",
	Short: "Download or update a product and optionally select a version",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductSetup,
}

var productVersionsCmd = &cobra.Command{
	Use:   "versions [product]",
	Short: "List the released versions of a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runProductVersions,
}

var (
	setupVersion  string
	setupOverride bool
	assumeYes     bool
)

func init() {
	productCmd.AddCommand(productListCmd, productSetupCmd, productVersionsCmd)

	productSetupCmd.Flags().StringVar(&setupVersion, "version", "", "version to check out: a tag, 'prod', 'devel' or the branch name")
	productSetupCmd.Flags().BoolVar(&setupOverride, "override", false, "discard local changes in the product directory")
	productSetupCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask before discarding local changes")
}

func runProductList(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tBRANCH\tDIRECTORY\tDOWNLOADED")
	for _, p := range svc.catalog.Products() {
		dir := p.Dir(svc.cfg.RepoDir)
		downloaded := "no"
		if gitclient.DirIsGitRepo(dir) {
			downloaded = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Key, p.Name, p.Branch, dir, downloaded)
	}
	return w.Flush()
}

func runProductSetup(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	p, err := svc.catalog.Get(args[0])
	if err != nil {
		return err
	}
	repo, err := fetchProduct(ctx, p, setupOverride)
	if err != nil {
		return err
	}

	if setupVersion == "" {
		return nil
	}
	v, err := findVersion(repo, p, setupVersion)
	if err != nil {
		return err
	}
	if err := svc.git.CheckoutRef(repo, v.Ref); err != nil {
		return fmt.Errorf("could not select %s: %w", v.Name, err)
	}
	fmt.Printf("✓ %s %s checked out in %s\n", p.Name, v.Name, p.Dir(svc.cfg.RepoDir))
	return nil
}

// fetchProduct clones p, or pulls the latest changes into an existing
// clone. Local changes stop the pull unless override is set and confirmed.
func fetchProduct(ctx context.Context, p product.Product, override bool) (*git.Repository, error) {
	dir := p.Dir(svc.cfg.RepoDir)

	if !gitclient.DirIsGitRepo(dir) {
		if _, err := os.Stat(dir); err == nil && !product.DirIsEmpty(dir) {
			return nil, fmt.Errorf("%s exists but is not a %s repository", dir, p.Name)
		}
		fmt.Printf("Downloading %s to %s...\n", p.Name, dir)
		q := worker.NewQueue()
		svc.git.CloneRepo(p.RepoURL, dir, q)
		msg, err := await(ctx, q)
		if err != nil {
			return nil, err
		}
		repo, ok := msg.Data.(*git.Repository)
		if !ok {
			return nil, fmt.Errorf("clone of %s did not return a repository", p.RepoURL)
		}
		if err := svc.git.CheckoutBranch(repo, p.Branch); err != nil {
			return nil, err
		}
		return repo, nil
	}

	if failed := product.DeleteConfigFiles(dir, p.ConfigFiles()); len(failed) > 0 {
		return nil, fmt.Errorf("could not delete old config files %v from %s", failed, dir)
	}
	repo, err := svc.git.GetRepo(dir)
	if err != nil {
		return nil, err
	}
	changes, err := svc.git.CheckLocalChanges(repo)
	if err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		fmt.Printf("Local changes in %s:\n", dir)
		for _, c := range changes {
			fmt.Printf("  • %s\n", c)
		}
		if !override {
			return nil, fmt.Errorf("local changes found, move them elsewhere or rerun with --override")
		}
		ok, err := confirm(fmt.Sprintf("Discard %d local change(s) in %s?", len(changes), p.Name))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("cancelled")
		}
		if err := svc.git.HardReset(repo); err != nil {
			return nil, fmt.Errorf("could not discard local changes in %s: %w", dir, err)
		}
		svc.record(ctx, "hard_reset", map[string]any{"dir": dir, "changes": changes}, "success", dir)
	}

	if err := svc.git.CheckoutBranch(repo, p.Branch); err != nil {
		return nil, fmt.Errorf("could not switch %s to %s: %w", dir, p.Branch, err)
	}
	fmt.Printf("Getting the latest %s updates...\n", p.Name)
	q := worker.NewQueue()
	svc.git.PullLatest(repo, p.Branch, q)
	msg, err := await(ctx, q)
	if err != nil {
		return nil, err
	}
	fmt.Printf("✓ %s\n", worker.DataString(msg.Data))
	return repo, nil
}

// findVersion resolves name to a version of p. "prod" and "devel" pick the
// newest release of that type; the branch name picks the branch tip.
func findVersion(repo *git.Repository, p product.Product, name string) (gitclient.Version, error) {
	switch strings.ToLower(name) {
	case "prod":
		if v, ok, err := svc.git.GetLatestProd(repo); err != nil || ok {
			return v, err
		}
		return gitclient.Version{}, fmt.Errorf("%s has no production release", p.Name)
	case "devel":
		if v, ok, err := svc.git.GetLatestDevel(repo); err != nil || ok {
			return v, err
		}
		return gitclient.Version{}, fmt.Errorf("%s has no development release", p.Name)
	case p.Branch:
		ref, err := svc.git.GetBranchRef(repo, p.Branch)
		if err != nil {
			return gitclient.Version{}, err
		}
		return gitclient.Version{Name: p.Branch, Ref: ref.Name()}, nil
	}

	versions, err := svc.git.GetRepoVersions(repo)
	if err != nil {
		return gitclient.Version{}, err
	}
	for _, v := range versions {
		if v.Name == name {
			return v, nil
		}
	}
	return gitclient.Version{}, fmt.Errorf("%s has no version %s", p.Name, name)
}

func runProductVersions(cmd *cobra.Command, args []string) error {
	p, err := svc.catalog.Get(args[0])
	if err != nil {
		return err
	}
	dir := p.Dir(svc.cfg.RepoDir)
	if !gitclient.DirIsGitRepo(dir) {
		return fmt.Errorf("%s is not downloaded, run 'exinstaller product setup %s' first", p.Name, p.Key)
	}
	repo, err := svc.git.GetRepo(dir)
	if err != nil {
		return err
	}
	versions, err := svc.git.GetRepoVersions(repo)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No versions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tTYPE")
	for _, v := range versions {
		fmt.Fprintf(w, "%s\t%s\n", v.Name, v.Type)
	}
	return w.Flush()
}

// confirm asks a yes/no question. --yes answers it without asking.
func confirm(question string) (bool, error) {
	if assumeYes {
		return true, nil
	}
	ok := false
	form := newForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(question).
				Description("This cannot be undone").
				Value(&ok).
				Affirmative("Yes, discard").
				Negative("No"),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// newForm creates a form with appropriate settings based on TTY detection
func newForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...).WithTheme(huh.ThemeDracula())
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		form = form.WithAccessible(true)
	}
	return form
}
