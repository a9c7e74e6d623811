package apt

import (
	"slices"
	"strconv"
	"strings"
)

// FileManifest maps repository-relative paths to their FileEntry.
//
// A FileManifest is read-only once returned by the parser.
type FileManifest struct {
	entries map[string]*FileEntry
}

func newFileManifest() *FileManifest {
	return &FileManifest{entries: make(map[string]*FileEntry)}
}

// Len returns the number of files.
func (m *FileManifest) Len() int {
	return len(m.entries)
}

// Get returns the entry for p.
func (m *FileManifest) Get(p string) (FileEntry, bool) {
	fe, ok := m.entries[p]
	if !ok {
		return FileEntry{}, false
	}
	return *fe, true
}

// Paths returns every path in lexical order.
func (m *FileManifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Entries returns every entry ordered by path.
func (m *FileManifest) Entries() []FileEntry {
	entries := make([]FileEntry, 0, len(m.entries))
	for _, p := range m.Paths() {
		entries = append(entries, *m.entries[p])
	}
	return entries
}

// WithoutDigest returns the paths that have no digest for a, in lexical order.
func (m *FileManifest) WithoutDigest(a DigestAlgorithm) []string {
	var paths []string
	for _, p := range m.Paths() {
		if _, ok := m.entries[p].Digest(a); !ok {
			paths = append(paths, p)
		}
	}
	return paths
}

// TotalSize returns the sum of all file sizes.
func (m *FileManifest) TotalSize() uint64 {
	var total uint64
	for _, fe := range m.entries {
		total += fe.size
	}
	return total
}

// addSection merges the lines of one hash section into m.
func (m *FileManifest) addSection(a DigestAlgorithm, f Field) error {
	lines := f.Continuations
	if f.Head != "" {
		lines = append([]FieldLine{{Number: f.Line, Text: f.Head}}, lines...)
	}

	for _, line := range lines {
		if line.Text == "" {
			continue
		}
		if err := m.addLine(a, f.Name, line); err != nil {
			return err
		}
	}
	return nil
}

// addLine parses "<digest> <size> <path>" and merges it into m.
func (m *FileManifest) addLine(a DigestAlgorithm, section string, line FieldLine) error {
	tokens := strings.Fields(line.Text)
	if len(tokens) != 3 {
		return fail(&MalformedFieldError{
			Line:   line.Number,
			Field:  section,
			Text:   line.Text,
			Reason: "expected \"<digest> <size> <path>\"",
		})
	}
	p := tokens[2]
	size, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return fail(&MalformedFieldError{
			Line:   line.Number,
			Field:  section,
			Text:   line.Text,
			Reason: "invalid size " + strconv.Quote(tokens[1]),
		})
	}
	if err := validateRepositoryPath(p); err != nil {
		return err
	}
	digest, err := normalizeDigest(a, p, tokens[0])
	if err != nil {
		return err
	}

	fe, ok := m.entries[p]
	if !ok {
		fe = &FileEntry{path: p, size: size, compression: CompressionOf(p)}
		fe.digests[a] = digest
		m.entries[p] = fe
		return nil
	}

	if fe.size != size {
		return fail(&InconsistentManifestError{
			Path:   p,
			Reason: "size " + strconv.FormatUint(size, 10) + " in " + section + " disagrees with " + strconv.FormatUint(fe.size, 10),
		})
	}
	if prev := fe.digests[a]; prev != "" && prev != digest {
		return fail(&InconsistentManifestError{
			Path:   p,
			Reason: "listed twice in " + section + " with different digests",
		})
	}
	fe.digests[a] = digest
	return nil
}
