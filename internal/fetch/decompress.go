package fetch

import (
	"compress/bzip2"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// Decompress returns a reader of the uncompressed content of r.
func Decompress(c apt.Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case apt.CompressionNone:
		return io.NopCloser(r), nil
	case apt.CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		return gz, nil
	case apt.CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case apt.CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "xz")
		}
		return io.NopCloser(xr), nil
	case apt.CompressionLZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "lzma")
		}
		return io.NopCloser(lr), nil
	}
	return nil, errors.Newf("unsupported compression %v", c)
}
