package apt

import (
	"bytes"
	"io"
	"os"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
)

// OptionalBool is a yes/no Release field that may be absent.
// The zero value is unspecified.
type OptionalBool struct {
	value bool
	set   bool
}

// Get returns the value and whether it was specified.
func (o OptionalBool) Get() (value bool, ok bool) {
	return o.value, o.set
}

// IsTrue returns true if the field was specified as yes.
func (o OptionalBool) IsTrue() bool {
	return o.set && o.value
}

// Specified returns true if the field was present with a recognized value.
func (o OptionalBool) Specified() bool {
	return o.set
}

func (o OptionalBool) String() string {
	switch {
	case !o.set:
		return "unspecified"
	case o.value:
		return "yes"
	}
	return "no"
}

// ptr returns nil for unspecified, for rendering.
func (o OptionalBool) ptr() *bool {
	if !o.set {
		return nil
	}
	v := o.value
	return &v
}

// Release is the parsed form of a Release or InRelease file.
//
// A Release is never modified after Parse returns it and may be shared
// between goroutines.
type Release struct {
	origin, label, suite, codename, version, description string

	components, architectures, signedBy []string

	date, validUntil time.Time

	notAutomatic, butAutomaticUpgrades, acquireByHash OptionalBool

	manifest *FileManifest
}

func (r *Release) Origin() string      { return r.origin }
func (r *Release) Label() string       { return r.label }
func (r *Release) Suite() string       { return r.suite }
func (r *Release) Codename() string    { return r.codename }
func (r *Release) Version() string     { return r.version }
func (r *Release) Description() string { return r.description }

// Components returns the components in document order.
func (r *Release) Components() []string { return slices.Clone(r.components) }

// Architectures returns the architectures in document order.
func (r *Release) Architectures() []string { return slices.Clone(r.architectures) }

// SignedBy returns the fingerprints of the Signed-By field, or nil.
func (r *Release) SignedBy() []string { return slices.Clone(r.signedBy) }

// Date returns the creation time of the Release file in UTC.
func (r *Release) Date() time.Time { return r.date }

// ValidUntil returns the expiry time in UTC, if the field was present.
func (r *Release) ValidUntil() (time.Time, bool) {
	return r.validUntil, !r.validUntil.IsZero()
}

// Expired returns true if now is past Valid-Until.
func (r *Release) Expired(now time.Time) bool {
	return !r.validUntil.IsZero() && now.After(r.validUntil)
}

func (r *Release) NotAutomatic() OptionalBool         { return r.notAutomatic }
func (r *Release) ButAutomaticUpgrades() OptionalBool { return r.butAutomaticUpgrades }
func (r *Release) AcquireByHash() OptionalBool        { return r.acquireByHash }

// Manifest returns the files listed in the checksum sections.
func (r *Release) Manifest() *FileManifest { return r.manifest }

// Variants groups the manifest by artifact.
func (r *Release) Variants() *VariantIndex { return ResolveVariants(r.manifest) }

// HasComponent returns true if c is listed in Components.
func (r *Release) HasComponent(c string) bool { return slices.Contains(r.components, c) }

// HasArchitecture returns true if a is listed in Architectures.
func (r *Release) HasArchitecture(a string) bool { return slices.Contains(r.architectures, a) }

// ParseRelease parses the text of a Release file, i.e. an InRelease
// file with its envelope already removed.
func ParseRelease(interior io.Reader) (*Release, error) {
	b := newReleaseBuilder()
	tok := NewTokenizer(interior)
	for {
		f, err := tok.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := b.apply(f); err != nil {
			return nil, err
		}
	}
	return b.finalize()
}

// Parse strips the clear-sign envelope of r, if any, and parses the
// enclosed Release text. The Envelope is returned for signature checks.
func Parse(r io.Reader) (*Release, *Envelope, error) {
	env, err := StripEnvelope(r)
	if err != nil {
		return nil, nil, err
	}
	rel, err := ParseRelease(bytes.NewReader(env.Interior))
	if err != nil {
		return nil, nil, err
	}
	return rel, env, nil
}

// ParseFile is Parse for a file on disk.
func ParseFile(p string) (*Release, *Envelope, error) {
	f, err := os.Open(p) // #nosec G304 - reading a user-specified Release file is the purpose
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	rel, env, err := Parse(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, p)
	}
	return rel, env, nil
}
