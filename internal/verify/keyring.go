package verify

import (
	"bytes"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// LoadKeyring reads every public key from the given files into one key ring.
// Each file may be armored or binary and may hold several keys, as the
// files under /etc/apt/trusted.gpg.d do.
func LoadKeyring(paths ...string) (*crypto.KeyRing, error) {
	if len(paths) == 0 {
		return nil, errors.New("no keyring files given")
	}

	var keys []*crypto.Key
	for _, p := range paths {
		data, err := os.ReadFile(p) // #nosec G304 - keyring paths come from the operator
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read PGP keyring from: %s", p)
		}
		k, err := ReadKeys(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse PGP keyring from: %s", p)
		}
		keys = append(keys, k...)
	}
	return newKeyRing(keys)
}

// ReadKeys parses the public keys in data.
func ReadKeys(data []byte) ([]*crypto.Key, error) {
	var (
		entities openpgp.EntityList
		err      error
	)
	if isArmored(data) {
		entities, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(entities) == 0 {
		return nil, errors.New("no keys found")
	}

	keys := make([]*crypto.Key, 0, len(entities))
	for _, e := range entities {
		var buf bytes.Buffer
		if err := e.Serialize(&buf); err != nil {
			return nil, errors.Wrap(err, "serialize public key")
		}
		k, err := crypto.NewKey(buf.Bytes())
		if err != nil {
			return nil, errors.Wrap(err, "load public key")
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func newKeyRing(keys []*crypto.Key) (*crypto.KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("no keys found")
	}
	kr, err := crypto.NewKeyRing(keys[0])
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, k := range keys[1:] {
		if err := kr.AddKey(k); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return kr, nil
}

func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP"))
}
