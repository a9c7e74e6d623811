package apt

import (
	"crypto/md5"  // #nosec G501 - MD5 required for APT repository compatibility
	"crypto/sha1" // #nosec G505 - SHA1 required for APT repository compatibility
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"strconv"
	"strings"
)

// DigestAlgorithm identifies one of the checksum sections of a Release file.
type DigestAlgorithm uint8

const (
	MD5 DigestAlgorithm = iota
	SHA1
	SHA256
	SHA512

	numDigestAlgorithms = 4
)

// DigestAlgorithms lists every supported algorithm, weakest first.
var DigestAlgorithms = []DigestAlgorithm{MD5, SHA1, SHA256, SHA512}

// String returns the Release field name of the algorithm, which is
// also the directory name used under "by-hash".
func (a DigestAlgorithm) String() string {
	switch a {
	case MD5:
		return "MD5Sum"
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA512:
		return "SHA512"
	}
	return "unknown"
}

// HexLen returns the number of hex characters of a digest.
func (a DigestAlgorithm) HexLen() int {
	switch a {
	case MD5:
		return md5.Size * 2
	case SHA1:
		return sha1.Size * 2
	case SHA256:
		return sha256.Size * 2
	case SHA512:
		return sha512.Size * 2
	}
	return 0
}

// New returns a hash.Hash computing the algorithm.
func (a DigestAlgorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New() // #nosec G401 - MD5 required for APT repository compatibility
	case SHA1:
		return sha1.New() // #nosec G401 - SHA1 required for APT repository compatibility
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	}
	panic("apt: unknown digest algorithm")
}

// ParseDigestAlgorithm maps a Release section name to its algorithm.
// Matching is case-insensitive; "MD5" is accepted as well as "MD5Sum".
func ParseDigestAlgorithm(name string) (DigestAlgorithm, bool) {
	switch strings.ToLower(name) {
	case "md5sum", "md5":
		return MD5, true
	case "sha1":
		return SHA1, true
	case "sha256":
		return SHA256, true
	case "sha512":
		return SHA512, true
	}
	return 0, false
}

// normalizeDigest checks the hex digest s for algorithm a and returns
// it in lower case.
func normalizeDigest(a DigestAlgorithm, p, s string) (string, error) {
	if len(s) != a.HexLen() {
		return "", fail(&DigestFormatError{
			Algorithm: a,
			Path:      p,
			Digest:    s,
			Reason:    "expected " + strconv.Itoa(a.HexLen()) + " hex characters",
		})
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return "", fail(&DigestFormatError{
				Algorithm: a,
				Path:      p,
				Digest:    s,
				Reason:    "non-hex character",
			})
		}
	}
	return strings.ToLower(s), nil
}
