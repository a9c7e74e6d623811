package apt

import "strings"

// Compression identifies how an index variant is compressed.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionLZMA
	CompressionXZ
)

type compressionInfo struct {
	compression Compression
	name        string
	suffix      string
}

// compressions lists every known compression, most preferred first.
// Suffix inference, String and variant ordering all read this table.
var compressions = [...]compressionInfo{
	{CompressionXZ, "xz", ".xz"},
	{CompressionLZMA, "lzma", ".lzma"},
	{CompressionBzip2, "bzip2", ".bz2"},
	{CompressionGzip, "gzip", ".gz"},
	{CompressionNone, "none", ""},
}

func (c Compression) info() compressionInfo {
	for _, ci := range compressions {
		if ci.compression == c {
			return ci
		}
	}
	panic("apt: unknown compression")
}

// String returns the lower-case name of the compression.
func (c Compression) String() string {
	return c.info().name
}

// Suffix returns the file name suffix including the leading dot.
// CompressionNone has an empty suffix.
func (c Compression) Suffix() string {
	return c.info().suffix
}

// Rank returns the preference position of c; lower is preferred.
func (c Compression) Rank() int {
	for i, ci := range compressions {
		if ci.compression == c {
			return i
		}
	}
	panic("apt: unknown compression")
}

// Preferred returns true if c should be chosen over other.
func (c Compression) Preferred(other Compression) bool {
	return c.Rank() < other.Rank()
}

// CompressionOf infers the compression of p from its suffix.
func CompressionOf(p string) Compression {
	c, _ := SplitCompression(p)
	return c
}

// SplitCompression returns the compression of p and p with the
// compression suffix removed.
func SplitCompression(p string) (Compression, string) {
	for _, ci := range compressions {
		if ci.suffix == "" {
			continue
		}
		if strings.HasSuffix(p, ci.suffix) && len(p) > len(ci.suffix) {
			return ci.compression, strings.TrimSuffix(p, ci.suffix)
		}
	}
	return CompressionNone, p
}
