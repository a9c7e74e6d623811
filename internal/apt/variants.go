package apt

import (
	"cmp"
	"slices"
)

// ArtifactVariants is one logical index file and the forms in which it
// is available, most preferred first.
type ArtifactVariants struct {
	Name     string
	Variants []FileEntry
}

// VariantIndex groups manifest entries by artifact name, which is the
// path without its compression suffix.
//
// Paths that only share a stem after suffix removal are assumed to be
// variants of the same artifact, as repository naming conventions imply.
type VariantIndex struct {
	groups map[string][]FileEntry
}

// ResolveVariants builds the VariantIndex of m.
func ResolveVariants(m *FileManifest) *VariantIndex {
	groups := make(map[string][]FileEntry)
	for _, fe := range m.entries {
		_, name := SplitCompression(fe.path)
		groups[name] = append(groups[name], *fe)
	}
	for _, variants := range groups {
		slices.SortFunc(variants, func(a, b FileEntry) int {
			if c := cmp.Compare(a.compression.Rank(), b.compression.Rank()); c != 0 {
				return c
			}
			return cmp.Compare(a.path, b.path)
		})
	}
	return &VariantIndex{groups: groups}
}

// Lookup returns the variants of artifact name, most preferred first.
func (vi *VariantIndex) Lookup(name string) ([]FileEntry, bool) {
	variants, ok := vi.groups[name]
	return slices.Clone(variants), ok
}

// Preferred returns the single variant to download for artifact name.
func (vi *VariantIndex) Preferred(name string) (FileEntry, bool) {
	variants, ok := vi.groups[name]
	if !ok {
		return FileEntry{}, false
	}
	return variants[0], true
}

// Names returns every artifact name in lexical order.
func (vi *VariantIndex) Names() []string {
	names := make([]string, 0, len(vi.groups))
	for name := range vi.groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Groups returns every artifact with its variants, ordered by name.
func (vi *VariantIndex) Groups() []ArtifactVariants {
	names := vi.Names()
	groups := make([]ArtifactVariants, 0, len(names))
	for _, name := range names {
		groups = append(groups, ArtifactVariants{Name: name, Variants: slices.Clone(vi.groups[name])})
	}
	return groups
}
