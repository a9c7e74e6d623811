package apt

import (
	"path"
	"slices"
)

// FileEntry is the manifest record of one file listed in a Release file.
type FileEntry struct {
	path        string
	size        uint64
	digests     [numDigestAlgorithms]string // indexed by DigestAlgorithm; "" means not listed
	compression Compression
}

var digestSlots = [numDigestAlgorithms]DigestAlgorithm{MD5, SHA1, SHA256, SHA512}

// Path returns the path of the file relative to the Release file.
func (fe FileEntry) Path() string {
	return fe.path
}

// Size returns the number of bytes of the file body.
func (fe FileEntry) Size() uint64 {
	return fe.size
}

// Compression returns the compression inferred from the path suffix.
func (fe FileEntry) Compression() Compression {
	return fe.compression
}

// Digest returns the lower-case hex digest for a, if listed.
func (fe FileEntry) Digest(a DigestAlgorithm) (string, bool) {
	if int(a) >= len(fe.digests) {
		return "", false
	}
	d := fe.digests[a]
	return d, d != ""
}

// Digests returns a copy of every listed digest.
func (fe FileEntry) Digests() map[DigestAlgorithm]string {
	m := make(map[DigestAlgorithm]string, len(fe.digests))
	for _, a := range digestSlots {
		if d := fe.digests[a]; d != "" {
			m[a] = d
		}
	}
	return m
}

// Algorithms returns the listed algorithms, weakest first.
func (fe FileEntry) Algorithms() []DigestAlgorithm {
	var algs []DigestAlgorithm
	for _, a := range digestSlots {
		if fe.digests[a] != "" {
			algs = append(algs, a)
		}
	}
	return algs
}

// Strong returns true if fe carries a SHA256 or SHA512 digest.
func (fe FileEntry) Strong() bool {
	return fe.digests[SHA256] != "" || fe.digests[SHA512] != ""
}

// Strongest returns the strongest listed algorithm and its digest.
func (fe FileEntry) Strongest() (DigestAlgorithm, string) {
	algs := fe.Algorithms()
	if len(algs) == 0 {
		panic("apt: file entry without digests: " + fe.path)
	}
	a := algs[len(algs)-1]
	return a, fe.digests[a]
}

// ByHashPath returns the "by-hash" path of the file for algorithm a.
// If fe has no digest for a, an empty string will be returned.
func (fe FileEntry) ByHashPath(a DigestAlgorithm) string {
	d, ok := fe.Digest(a)
	if !ok {
		return ""
	}
	return path.Join(path.Dir(fe.path), "by-hash", a.String(), d)
}

// ByHashPaths returns every "by-hash" path of the file, strongest first.
func (fe FileEntry) ByHashPaths() []string {
	algs := fe.Algorithms()
	slices.Reverse(algs)
	paths := make([]string, 0, len(algs))
	for _, a := range algs {
		paths = append(paths, fe.ByHashPath(a))
	}
	return paths
}

// Same returns true if t describes the same file with the same checksums.
func (fe FileEntry) Same(t FileEntry) bool {
	return fe.path == t.path && fe.size == t.size && fe.digests == t.digests
}
