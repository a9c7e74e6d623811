package apt

import (
	"strings"
	"time"
)

type fieldShape int

const (
	shapeScalar fieldShape = iota
	shapeFlag
	shapeTimestamp
	shapeList
	shapeFingerprints
	shapeHashSection
)

// fieldRule describes how one Release field is interpreted.
type fieldRule struct {
	shape fieldShape
	// exactly one of the following is set, matching shape
	scalar    func(b *releaseBuilder) *string
	flag      func(b *releaseBuilder) *OptionalBool
	timestamp func(b *releaseBuilder) **time.Time
	list      func(b *releaseBuilder) *[]string
	algorithm DigestAlgorithm
}

// releaseSchema is keyed by lower-cased field name. Fields not listed
// here are ignored.
var releaseSchema = map[string]fieldRule{
	"origin":      {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.origin }},
	"label":       {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.label }},
	"suite":       {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.suite }},
	"codename":    {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.codename }},
	"version":     {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.version }},
	"description": {shape: shapeScalar, scalar: func(b *releaseBuilder) *string { return &b.description }},

	"components":    {shape: shapeList, list: func(b *releaseBuilder) *[]string { return &b.components }},
	"architectures": {shape: shapeList, list: func(b *releaseBuilder) *[]string { return &b.architectures }},
	"signed-by":     {shape: shapeFingerprints, list: func(b *releaseBuilder) *[]string { return &b.signedBy }},

	"date":        {shape: shapeTimestamp, timestamp: func(b *releaseBuilder) **time.Time { return &b.date }},
	"valid-until": {shape: shapeTimestamp, timestamp: func(b *releaseBuilder) **time.Time { return &b.validUntil }},

	"notautomatic":         {shape: shapeFlag, flag: func(b *releaseBuilder) *OptionalBool { return &b.notAutomatic }},
	"butautomaticupgrades": {shape: shapeFlag, flag: func(b *releaseBuilder) *OptionalBool { return &b.butAutomaticUpgrades }},
	"acquire-by-hash":      {shape: shapeFlag, flag: func(b *releaseBuilder) *OptionalBool { return &b.acquireByHash }},

	"md5sum": {shape: shapeHashSection, algorithm: MD5},
	"sha1":   {shape: shapeHashSection, algorithm: SHA1},
	"sha256": {shape: shapeHashSection, algorithm: SHA256},
	"sha512": {shape: shapeHashSection, algorithm: SHA512},
}

// releaseBuilder accumulates fields until finalize validates them.
type releaseBuilder struct {
	origin, label, suite, codename, version, description string

	components, architectures, signedBy []string

	date, validUntil *time.Time

	notAutomatic, butAutomaticUpgrades, acquireByHash OptionalBool

	manifest *FileManifest
}

func newReleaseBuilder() *releaseBuilder {
	return &releaseBuilder{manifest: newFileManifest()}
}

// apply interprets one field. Later occurrences of a field replace
// earlier ones, except hash sections, which accumulate.
func (b *releaseBuilder) apply(f Field) error {
	rule, ok := releaseSchema[strings.ToLower(f.Name)]
	if !ok {
		return nil
	}

	switch rule.shape {
	case shapeScalar:
		*rule.scalar(b) = f.Value
	case shapeFlag:
		*rule.flag(b) = parseFlag(f.Value)
	case shapeTimestamp:
		t, err := parseDate(f.Name, f.Value)
		if err != nil {
			return err
		}
		*rule.timestamp(b) = &t
	case shapeList:
		*rule.list(b) = orderedSet(strings.Fields(f.Value))
	case shapeFingerprints:
		*rule.list(b) = orderedSet(strings.FieldsFunc(f.Value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}))
	case shapeHashSection:
		return b.manifest.addSection(rule.algorithm, f)
	}
	return nil
}

// finalize checks mandatory fields and cross-field constraints and
// produces the immutable Release.
func (b *releaseBuilder) finalize() (*Release, error) {
	var missing []string
	if b.suite == "" {
		missing = append(missing, "suite")
	}
	if b.codename == "" {
		missing = append(missing, "codename")
	}
	if b.date == nil {
		missing = append(missing, "date")
	}
	if len(b.architectures) == 0 {
		missing = append(missing, "architectures")
	}
	if len(b.components) == 0 {
		missing = append(missing, "components")
	}
	if len(missing) > 0 {
		return nil, fail(&IncompleteReleaseError{Missing: missing})
	}

	if b.validUntil != nil && !b.validUntil.After(*b.date) {
		return nil, fail(&DateParseError{
			Field:  "Valid-Until",
			Text:   b.validUntil.Format(time.RFC1123),
			Reason: "must be after Date " + b.date.Format(time.RFC1123),
		})
	}

	for _, fe := range b.manifest.entries {
		if len(fe.Algorithms()) == 0 {
			panic("apt: manifest entry without digests: " + fe.path)
		}
	}

	r := &Release{
		origin:               b.origin,
		label:                b.label,
		suite:                b.suite,
		codename:             b.codename,
		version:              b.version,
		description:          b.description,
		components:           b.components,
		architectures:        b.architectures,
		date:                 *b.date,
		notAutomatic:         b.notAutomatic,
		butAutomaticUpgrades: b.butAutomaticUpgrades,
		acquireByHash:        b.acquireByHash,
		signedBy:             b.signedBy,
		manifest:             b.manifest,
	}
	if b.validUntil != nil {
		r.validUntil = *b.validUntil
	}
	return r, nil
}

// parseFlag implements the "yes only" rule: the value yes asserts the
// flag, anything else leaves it unspecified.
func parseFlag(value string) OptionalBool {
	if strings.EqualFold(strings.TrimSpace(value), "yes") {
		return OptionalBool{value: true, set: true}
	}
	return OptionalBool{}
}

// orderedSet drops empty and repeated tokens, keeping first occurrences in order.
func orderedSet(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var set []string
	for _, t := range tokens {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		set = append(set, t)
	}
	return set
}
