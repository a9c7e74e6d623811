package apt

import (
	"path"
	"strings"
)

// validateRepositoryPath rejects paths that would leave the directory
// of the Release file once joined to it:
// absolute paths, Windows drive or UNC paths and ".." segments.
func validateRepositoryPath(p string) error {
	if p == "" {
		return fail(&UnsafePathError{Path: p, Reason: "empty path"})
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return fail(&UnsafePathError{Path: p, Reason: "absolute path"})
	}
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		return fail(&UnsafePathError{Path: p, Reason: "absolute path"})
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fail(&UnsafePathError{Path: p, Reason: "directory traversal"})
		}
	}
	if path.Clean(p) == "." {
		return fail(&UnsafePathError{Path: p, Reason: "refers to the release directory"})
	}
	return nil
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
