// Package verify checks OpenPGP signatures of Release and InRelease files.
package verify

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

const signatureBlockType = "PGP SIGNATURE"

// ErrUnsigned is returned when a signature check is asked of a
// document that carries no clear-sign envelope.
var ErrUnsigned = errors.New("release is not clear-signed")

// Signer identifies the key that made a valid signature.
type Signer struct {
	// KeyID is the 16 hex digit ID of the signing key or subkey.
	KeyID string
	// Fingerprint is the fingerprint of the signing key or subkey.
	Fingerprint string
	// PrimaryFingerprint is the fingerprint of the primary key.
	PrimaryFingerprint string
	Created            time.Time
}

// Matches returns true if fp, a fingerprint or long key ID as written
// in a Signed-By field, names the signing key or its primary key.
func (s *Signer) Matches(fp string) bool {
	fp = normalizeFingerprint(fp)
	if fp == "" {
		return false
	}
	for _, own := range []string{s.Fingerprint, s.PrimaryFingerprint} {
		if own == "" {
			continue
		}
		if own == fp || (len(fp) == 16 && strings.HasSuffix(own, fp)) {
			return true
		}
	}
	return false
}

func (s *Signer) String() string {
	if s.PrimaryFingerprint != "" && s.PrimaryFingerprint != s.Fingerprint {
		return fmt.Sprintf("%s (subkey of %s)", s.Fingerprint, s.PrimaryFingerprint)
	}
	return s.Fingerprint
}

// SignedByError is returned when the signer is not among the keys a
// Release file lists in its Signed-By field.
type SignedByError struct {
	Signer  string
	Allowed []string
}

func (e *SignedByError) Error() string {
	return fmt.Sprintf("signed by %s, but Signed-By allows only %s", e.Signer, strings.Join(e.Allowed, ", "))
}

// Verifier checks signatures against a fixed key ring.
type Verifier struct {
	pgp  *crypto.PGPHandle
	keys *crypto.KeyRing
	at   time.Time
}

// NewVerifier creates a Verifier trusting the keys in kr.
func NewVerifier(kr *crypto.KeyRing) (*Verifier, error) {
	if kr == nil || kr.CountEntities() == 0 {
		return nil, errors.New("verifier needs at least one public key")
	}
	return &Verifier{pgp: crypto.PGP(), keys: kr}, nil
}

// At makes v check signatures and key validity as of t instead of the
// current time. This is needed to check an archived Release file whose
// signing key has since expired.
func (v *Verifier) At(t time.Time) *Verifier {
	dup := *v
	dup.at = t
	return &dup
}

func (v *Verifier) verifier() (crypto.PGPVerify, error) {
	b := v.pgp.Verify().VerificationKeys(v.keys)
	if !v.at.IsZero() {
		b = b.VerifyTime(v.at.Unix())
	}
	verifier, err := b.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create verifier")
	}
	return verifier, nil
}

// VerifyInRelease verifies a clear-signed InRelease document.
func (v *Verifier) VerifyInRelease(raw []byte) (*Signer, error) {
	verifier, err := v.verifier()
	if err != nil {
		return nil, err
	}

	res, err := verifier.VerifyCleartext(raw)
	if err != nil {
		return nil, errors.Wrap(err, "PGP signature verification failed for InRelease")
	}
	if sigErr := res.SignatureError(); sigErr != nil {
		return nil, errors.Wrap(sigErr, "PGP signature verification failed for InRelease")
	}

	s := signerOf(res)
	slog.Debug("PGP signature for clear-signed InRelease is valid", "key_id", s.KeyID)
	return s, nil
}

// VerifyDetached verifies a Release file against its Release.gpg
// signature, which may be armored or binary.
func (v *Verifier) VerifyDetached(release, sig []byte) (*Signer, error) {
	verifier, err := v.verifier()
	if err != nil {
		return nil, err
	}

	var encoding int8 = crypto.Bytes
	if isArmored(sig) {
		encoding = crypto.Armor
	}
	res, err := verifier.VerifyDetached(release, sig, encoding)
	if err != nil {
		return nil, errors.Wrap(err, "PGP signature verification failed for Release")
	}
	if sigErr := res.SignatureError(); sigErr != nil {
		return nil, errors.Wrap(sigErr, "PGP signature verification failed for Release")
	}

	s := signerOf(res)
	slog.Debug("PGP signature for Release is valid", "key_id", s.KeyID)
	return s, nil
}

// VerifyEnvelope verifies raw, the full InRelease document env was
// stripped from. The signature block captured by the envelope must be
// a well-formed armored signature.
func (v *Verifier) VerifyEnvelope(env *apt.Envelope, raw []byte) (*Signer, error) {
	if !env.Signed() {
		return nil, ErrUnsigned
	}
	block, err := armor.Decode(bytes.NewReader(env.Signature))
	if err != nil {
		return nil, errors.Wrap(err, "decode signature block")
	}
	if block.Type != signatureBlockType {
		return nil, errors.Newf("signature block has armor type %q, want %q", block.Type, signatureBlockType)
	}
	return v.VerifyInRelease(raw)
}

// CheckSignedBy enforces the Signed-By field of rel: when present, s
// must match one of the listed fingerprints.
func CheckSignedBy(rel *apt.Release, s *Signer) error {
	allowed := rel.SignedBy()
	if len(allowed) == 0 {
		return nil
	}
	for _, fp := range allowed {
		if s.Matches(fp) {
			return nil
		}
	}
	return errors.WithStack(&SignedByError{Signer: s.String(), Allowed: allowed})
}

// signatureResult is the part of a verification result that names the signer.
type signatureResult interface {
	SignedByKeyId() uint64
	SignedByFingerprint() []byte
	SignedByKey() *crypto.Key
	SignatureCreationTime() int64
}

func signerOf(res signatureResult) *Signer {
	s := &Signer{
		KeyID:       fmt.Sprintf("%016X", res.SignedByKeyId()),
		Fingerprint: strings.ToUpper(hex.EncodeToString(res.SignedByFingerprint())),
		Created:     time.Unix(res.SignatureCreationTime(), 0).UTC(),
	}
	if k := res.SignedByKey(); k != nil {
		s.PrimaryFingerprint = strings.ToUpper(k.GetFingerprint())
	}
	return s
}

// normalizeFingerprint upper-cases fp and drops the "!" suffix and
// "0x" prefix that sources.list syntax allows.
func normalizeFingerprint(fp string) string {
	fp = strings.TrimSpace(fp)
	fp = strings.TrimSuffix(fp, "!")
	fp = strings.TrimPrefix(strings.TrimPrefix(fp, "0x"), "0X")
	return strings.ToUpper(fp)
}
