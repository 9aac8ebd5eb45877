package gitclient

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Release types carried in version tags.
const (
	TypeProd  = "Prod"
	TypeDevel = "Devel"
)

var versionPattern = regexp.MustCompile(`v(\d+)\.(\d+)\.(\d+)-(Prod|Devel)`)

// Version is a release tag such as v5.0.7-Prod.
type Version struct {
	Name  string
	Major int
	Minor int
	Patch int
	Type  string
	Ref   plumbing.ReferenceName
}

// ExtractVersionDetails parses major, minor and patch from a tag name.
func ExtractVersionDetails(s string) (major, minor, patch int, ok bool) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	patch, _ = strconv.Atoi(m[3])
	return major, minor, patch, true
}

// GetRepoVersions returns the version tags of repo, newest first.
func (c *Client) GetRepoVersions(repo *git.Repository) ([]Version, error) {
	var versions []Version
	err := c.locked(func() error {
		tags, err := repo.Tags()
		if err != nil {
			return fmt.Errorf("failed to list tags: %w", err)
		}
		return tags.ForEach(func(ref *plumbing.Reference) error {
			name := ref.Name().Short()
			m := versionPattern.FindStringSubmatch(name)
			if m == nil {
				return nil
			}
			major, _ := strconv.Atoi(m[1])
			minor, _ := strconv.Atoi(m[2])
			patch, _ := strconv.Atoi(m[3])
			versions = append(versions, Version{
				Name:  name,
				Major: major,
				Minor: minor,
				Patch: patch,
				Type:  m[4],
				Ref:   ref.Name(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(versions, func(i, j int) bool {
		a, b := versions[i], versions[j]
		if a.Major != b.Major {
			return a.Major > b.Major
		}
		if a.Minor != b.Minor {
			return a.Minor > b.Minor
		}
		if a.Patch != b.Patch {
			return a.Patch > b.Patch
		}
		return a.Name > b.Name
	})
	return versions, nil
}

func (c *Client) latest(repo *git.Repository, kind string) (Version, bool, error) {
	versions, err := c.GetRepoVersions(repo)
	if err != nil {
		return Version{}, false, err
	}
	for _, v := range versions {
		if v.Type == kind {
			return v, true, nil
		}
	}
	return Version{}, false, nil
}

// GetLatestProd returns the newest production release.
func (c *Client) GetLatestProd(repo *git.Repository) (Version, bool, error) {
	return c.latest(repo, TypeProd)
}

// GetLatestDevel returns the newest development release.
func (c *Client) GetLatestDevel(repo *git.Repository) (Version, bool, error) {
	return c.latest(repo, TypeDevel)
}

// DevelBranch returns the tip of the remote devel branch as a selectable
// version, if the repository has one.
func (c *Client) DevelBranch(repo *git.Repository) (Version, bool) {
	name := plumbing.NewRemoteReferenceName(DefaultRemote, "devel")
	var found bool
	_ = c.locked(func() error {
		_, err := repo.Reference(name, true)
		found = err == nil
		return nil
	})
	if !found {
		return Version{}, false
	}
	return Version{Name: "devel branch", Type: TypeDevel, Ref: name}, true
}
