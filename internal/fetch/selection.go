package fetch

import (
	"path"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// Selection restricts which index files of a release are wanted.
// Empty Components or Architectures mean every one the release lists.
type Selection struct {
	Components    []string `toml:"components"`
	Architectures []string `toml:"architectures"`
	Sources       bool     `toml:"sources"`
	Contents      bool     `toml:"contents"`
	Languages     []string `toml:"languages"`
}

// UnknownSelectionError is returned when a Selection names a component
// or architecture the release does not carry.
type UnknownSelectionError struct {
	Kind  string
	Name  string
	Known []string
}

func (e *UnknownSelectionError) Error() string {
	return "release has no " + e.Kind + " " + e.Name + " (has " + strings.Join(e.Known, ", ") + ")"
}

// resolve fills empty fields from rel and checks the rest against it.
func (s Selection) resolve(rel *apt.Release) (Selection, error) {
	if len(s.Components) == 0 {
		s.Components = rel.Components()
	}
	for _, c := range s.Components {
		if !rel.HasComponent(c) {
			return s, errors.WithStack(&UnknownSelectionError{Kind: "component", Name: c, Known: rel.Components()})
		}
	}

	if len(s.Architectures) == 0 {
		s.Architectures = rel.Architectures()
	}
	for _, a := range s.Architectures {
		if !rel.HasArchitecture(a) {
			return s, errors.WithStack(&UnknownSelectionError{Kind: "architecture", Name: a, Known: rel.Architectures()})
		}
	}
	if !slices.Contains(s.Architectures, "all") {
		s.Architectures = append(slices.Clone(s.Architectures), "all")
	}
	return s, nil
}

// Matches returns true if the artifact name, a manifest path without
// its compression suffix, is an index selected by s.
// s must have been resolved.
func (s Selection) Matches(name string) bool {
	dir, base := path.Split(name)
	dir = path.Clean(dir)
	component, sub, _ := strings.Cut(dir, "/")

	switch {
	case base == "Packages", base == "Release", base == "Index":
		// per-directory Release and i18n Index files follow their directory
		return s.matchesDir(component, sub)
	case base == "Sources":
		return s.Sources && sub == "source" && slices.Contains(s.Components, component)
	case strings.HasPrefix(base, "Contents-"):
		if !s.Contents {
			return false
		}
		arch := strings.TrimPrefix(base, "Contents-")
		arch = strings.TrimPrefix(arch, "udeb-")
		if arch == "source" {
			return s.Sources
		}
		return slices.Contains(s.Architectures, arch) && (dir == "." || slices.Contains(s.Components, dir))
	case strings.HasPrefix(base, "Translation-"):
		lang := strings.TrimPrefix(base, "Translation-")
		return sub == "i18n" && slices.Contains(s.Components, component) && slices.Contains(s.Languages, lang)
	}
	return false
}

func (s Selection) matchesDir(component, sub string) bool {
	if !slices.Contains(s.Components, component) {
		return false
	}
	switch {
	case sub == "source":
		return s.Sources
	case sub == "i18n":
		return len(s.Languages) > 0
	case strings.HasPrefix(sub, "binary-"):
		return slices.Contains(s.Architectures, strings.TrimPrefix(sub, "binary-"))
	}
	return false
}
