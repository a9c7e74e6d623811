package fetch

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// MismatchError reports a file whose size or digest differs from its
// manifest entry.
type MismatchError struct {
	Path string
	// What is "size" or the name of the digest algorithm.
	What string
	Want string
	Got  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s mismatch for %s: want %s, got %s", e.What, e.Path, e.Want, e.Got)
}

// CheckCopy copies from src to dst until either EOF is reached on src
// or an error occurs, and checks what was copied against fe using
// every digest fe lists.
func CheckCopy(dst io.Writer, src io.Reader, fe apt.FileEntry) (int64, error) {
	algs := fe.Algorithms()
	hashes := make([]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs)+1)
	for i, a := range algs {
		hashes[i] = a.New()
		writers = append(writers, hashes[i])
	}
	writers = append(writers, dst)

	n, err := io.Copy(io.MultiWriter(writers...), src)
	if err != nil {
		return n, errors.Wrapf(err, "read %s", fe.Path())
	}

	if uint64(n) != fe.Size() { // #nosec G115 - io.Copy returns n >= 0
		return n, errors.WithStack(&MismatchError{
			Path: fe.Path(),
			What: "size",
			Want: strconv.FormatUint(fe.Size(), 10),
			Got:  strconv.FormatInt(n, 10),
		})
	}
	for i, a := range algs {
		want, _ := fe.Digest(a)
		if got := hex.EncodeToString(hashes[i].Sum(nil)); got != want {
			return n, errors.WithStack(&MismatchError{Path: fe.Path(), What: a.String(), Want: want, Got: got})
		}
	}
	return n, nil
}

// Check reads r to the end and checks it against fe.
func Check(fe apt.FileEntry, r io.Reader) error {
	_, err := CheckCopy(io.Discard, r, fe)
	return err
}
