// Package fetch plans which files of a release to download and checks
// downloaded files against the release manifest.
package fetch

import (
	"log/slog"
	"path"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// Policy tightens what Plan accepts.
type Policy struct {
	// RequireSHA256 rejects targets that have no SHA256 digest.
	RequireSHA256 bool `toml:"require_sha256"`
	// CheckValidUntil rejects releases past their Valid-Until date.
	CheckValidUntil bool `toml:"check_valid_until"`
}

// WeakDigestError is returned under Policy.RequireSHA256 for an
// artifact with no SHA256 digest in any variant.
type WeakDigestError struct {
	Path string
}

func (e *WeakDigestError) Error() string {
	return "no SHA256 digest for " + e.Path
}

// ExpiredError is returned under Policy.CheckValidUntil.
type ExpiredError struct {
	ValidUntil time.Time
	Now        time.Time
}

func (e *ExpiredError) Error() string {
	return "release expired at " + e.ValidUntil.Format(time.RFC1123) + " (now " + e.Now.Format(time.RFC1123) + ")"
}

// Target is one artifact to download.
type Target struct {
	// Name is the artifact name, the manifest path without compression suffix.
	Name string
	// Entry is the variant to download.
	Entry apt.FileEntry
	// Paths are the candidate locations relative to the release
	// directory, in the order they should be tried.
	Paths []string
}

// FetchPlan lists the targets selected from one release.
type FetchPlan struct {
	Targets   []Target
	ByHash    bool
	TotalSize uint64
}

// Plan selects the targets of rel that sel asks for, choosing the most
// preferred compressed variant of each. now is only used by
// Policy.CheckValidUntil.
func Plan(rel *apt.Release, sel Selection, policy Policy, now time.Time) (*FetchPlan, error) {
	if policy.CheckValidUntil && rel.Expired(now) {
		vu, _ := rel.ValidUntil()
		return nil, errors.WithStack(&ExpiredError{ValidUntil: vu, Now: now})
	}

	sel, err := sel.resolve(rel)
	if err != nil {
		return nil, err
	}

	plan := &FetchPlan{ByHash: rel.AcquireByHash().IsTrue()}
	for _, group := range rel.Variants().Groups() {
		if !sel.Matches(group.Name) {
			continue
		}
		fe, ok := pickVariant(group.Variants, policy)
		if !ok {
			return nil, errors.WithStack(&WeakDigestError{Path: group.Name})
		}

		t := Target{Name: group.Name, Entry: fe}
		if plan.ByHash {
			t.Paths = append(t.Paths, fe.ByHashPaths()...)
		}
		t.Paths = append(t.Paths, fe.Path())
		plan.Targets = append(plan.Targets, t)
		plan.TotalSize += fe.Size()
	}

	slog.Debug("fetch plan", "suite", rel.Suite(), "targets", len(plan.Targets), "by_hash", plan.ByHash, "total_size", FormatBytes(plan.TotalSize))
	return plan, nil
}

// pickVariant returns the first acceptable variant; variants are
// ordered most preferred first.
func pickVariant(variants []apt.FileEntry, policy Policy) (apt.FileEntry, bool) {
	for _, fe := range variants {
		if policy.RequireSHA256 {
			if _, ok := fe.Digest(apt.SHA256); !ok {
				continue
			}
		}
		return fe, true
	}
	return apt.FileEntry{}, false
}

// URLPath joins a candidate path to the directory of the Release file,
// e.g. "dists/bookworm".
func URLPath(releaseDir, p string) string {
	return path.Join(releaseDir, p)
}
