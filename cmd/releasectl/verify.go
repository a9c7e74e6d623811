package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/verify"
)

// verifyRelease checks the signature of the release at p. sigPath
// names a detached signature; when empty, p must be clear-signed.
func verifyRelease(w io.Writer, p, sigPath string, keyrings []string) error {
	raw, err := os.ReadFile(p) // #nosec G304 - reading a user-specified Release file is the purpose
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", p)
	}
	var sig []byte
	if sigPath != "" {
		sig, err = os.ReadFile(sigPath) // #nosec G304 - user-specified signature file
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", sigPath)
		}
	}

	rel, signer, err := verifyBytes(raw, sig, keyrings)
	if err != nil {
		return errors.Wrap(err, p)
	}
	_, err = fmt.Fprintf(w, "%s %s: good signature from %s\n", rel.Suite(), rel.Codename(), signer)
	return err
}

// verifyBytes parses raw and verifies it against the keyrings, using
// sig as a detached signature when not nil.
func verifyBytes(raw, sig []byte, keyrings []string) (*apt.Release, *verify.Signer, error) {
	if len(keyrings) == 0 {
		return nil, nil, errors.New("PGP verification requires a keyring, but none is configured; set 'keyrings' or pass --keyring")
	}
	kr, err := verify.LoadKeyring(keyrings...)
	if err != nil {
		return nil, nil, err
	}
	v, err := verify.NewVerifier(kr)
	if err != nil {
		return nil, nil, err
	}

	rel, env, err := apt.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}

	var signer *verify.Signer
	if sig != nil {
		if env.Signed() {
			return nil, nil, errors.New("the release is clear-signed; verify it without a detached signature")
		}
		slog.Info("verifying detached Release signature")
		signer, err = v.VerifyDetached(raw, sig)
	} else {
		slog.Info("verifying InRelease signature")
		signer, err = v.VerifyEnvelope(env, raw)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := verify.CheckSignedBy(rel, signer); err != nil {
		return nil, nil, err
	}
	slog.Info("PGP signature is valid", "key_id", signer.KeyID, "suite", rel.Suite())
	return rel, signer, nil
}
