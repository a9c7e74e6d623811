package apt

import (
	"encoding/json"
	"time"
)

// ReleaseView is a plain rendering of a Release for JSON or YAML output.
type ReleaseView struct {
	Origin               string          `json:"origin,omitempty" yaml:"origin,omitempty"`
	Label                string          `json:"label,omitempty" yaml:"label,omitempty"`
	Suite                string          `json:"suite" yaml:"suite"`
	Codename             string          `json:"codename" yaml:"codename"`
	Version              string          `json:"version,omitempty" yaml:"version,omitempty"`
	Description          string          `json:"description,omitempty" yaml:"description,omitempty"`
	Components           []string        `json:"components" yaml:"components"`
	Architectures        []string        `json:"architectures" yaml:"architectures"`
	Date                 time.Time       `json:"date" yaml:"date"`
	ValidUntil           *time.Time      `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	NotAutomatic         *bool           `json:"not_automatic" yaml:"not_automatic"`
	ButAutomaticUpgrades *bool           `json:"but_automatic_upgrades" yaml:"but_automatic_upgrades"`
	AcquireByHash        *bool           `json:"acquire_by_hash" yaml:"acquire_by_hash"`
	SignedBy             []string        `json:"signed_by,omitempty" yaml:"signed_by,omitempty"`
	Files                []FileEntryView `json:"files" yaml:"files"`
}

// FileEntryView is a plain rendering of a FileEntry.
type FileEntryView struct {
	Path        string `json:"path" yaml:"path"`
	Size        uint64 `json:"size" yaml:"size"`
	Compression string `json:"compression" yaml:"compression"`
	MD5Sum      string `json:"md5sum,omitempty" yaml:"md5sum,omitempty"`
	SHA1        string `json:"sha1,omitempty" yaml:"sha1,omitempty"`
	SHA256      string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	SHA512      string `json:"sha512,omitempty" yaml:"sha512,omitempty"`
}

// View returns the rendering of fe.
func (fe FileEntry) View() FileEntryView {
	return FileEntryView{
		Path:        fe.path,
		Size:        fe.size,
		Compression: fe.compression.String(),
		MD5Sum:      fe.digests[MD5],
		SHA1:        fe.digests[SHA1],
		SHA256:      fe.digests[SHA256],
		SHA512:      fe.digests[SHA512],
	}
}

// View returns the rendering of r.
func (r *Release) View() ReleaseView {
	v := ReleaseView{
		Origin:               r.origin,
		Label:                r.label,
		Suite:                r.suite,
		Codename:             r.codename,
		Version:              r.version,
		Description:          r.description,
		Components:           r.Components(),
		Architectures:        r.Architectures(),
		Date:                 r.date,
		NotAutomatic:         r.notAutomatic.ptr(),
		ButAutomaticUpgrades: r.butAutomaticUpgrades.ptr(),
		AcquireByHash:        r.acquireByHash.ptr(),
		SignedBy:             r.SignedBy(),
	}
	if t, ok := r.ValidUntil(); ok {
		v.ValidUntil = &t
	}
	for _, fe := range r.manifest.Entries() {
		v.Files = append(v.Files, fe.View())
	}
	return v
}

// MarshalJSON implements json.Marshaler
func (r *Release) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

// MarshalJSON implements json.Marshaler
func (fe FileEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(fe.View())
}
