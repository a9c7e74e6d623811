package apt

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// EnvelopeError reports a malformed or inconsistent clear-sign envelope.
type EnvelopeError struct {
	Line   int // 1-based; 0 when the problem is not tied to a line
	Reason string
}

func (e *EnvelopeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("clear-sign envelope: line %d: %s", e.Line, e.Reason)
	}
	return "clear-sign envelope: " + e.Reason
}

// MalformedFieldError reports a grammar violation in the control document.
type MalformedFieldError struct {
	Line   int
	Field  string // empty when the line could not be attributed to a field
	Text   string
	Reason string
}

func (e *MalformedFieldError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "malformed control document: line %d", e.Line)
	if e.Field != "" {
		fmt.Fprintf(&sb, " (field %s)", e.Field)
	}
	sb.WriteString(": " + e.Reason)
	if e.Text != "" {
		fmt.Fprintf(&sb, ": %q", e.Text)
	}
	return sb.String()
}

// DateParseError reports an unparseable timestamp, or a Valid-Until that
// does not come after Date.
type DateParseError struct {
	Field  string
	Text   string
	Reason string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("field %s: %s: %q", e.Field, e.Reason, e.Text)
}

// IncompleteReleaseError names the mandatory fields missing from a Release document.
type IncompleteReleaseError struct {
	Missing []string
}

func (e *IncompleteReleaseError) Error() string {
	return "incomplete release: missing " + strings.Join(e.Missing, ", ")
}

// Has returns true if name is among the missing fields.
func (e *IncompleteReleaseError) Has(name string) bool {
	for _, m := range e.Missing {
		if m == name {
			return true
		}
	}
	return false
}

// InconsistentManifestError reports a path whose hash section entries contradict each other.
type InconsistentManifestError struct {
	Path   string
	Reason string
}

func (e *InconsistentManifestError) Error() string {
	return fmt.Sprintf("inconsistent manifest entry for %s: %s", e.Path, e.Reason)
}

// DigestFormatError reports a digest that is not valid hex of the algorithm's length.
type DigestFormatError struct {
	Algorithm DigestAlgorithm
	Path      string
	Digest    string
	Reason    string
}

func (e *DigestFormatError) Error() string {
	return fmt.Sprintf("%s digest for %s: %s: %q", e.Algorithm, e.Path, e.Reason, e.Digest)
}

// UnsafePathError reports a manifest path that would escape the repository root.
type UnsafePathError struct {
	Path   string
	Reason string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path (%s): %s", e.Reason, e.Path)
}

// fail attaches a stack trace to a typed parse error.
func fail(err error) error {
	return errors.WithStackDepth(err, 1)
}
