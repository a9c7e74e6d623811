package fetch

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 - MD5Sum sections are part of the format
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

const releaseHeader = `Origin: Example
Suite: stable
Codename: bookworm
Date: Mon, 01 Jan 2024 00:00:00 UTC
Valid-Until: Mon, 08 Jan 2024 00:00:00 UTC
Architectures: amd64 arm64
Components: main contrib
`

const packages = "Package: hello\nVersion: 2.10-3\nArchitecture: amd64\n\nPackage: hello-traditional\nVersion: 2.10-2\nArchitecture: amd64\n"

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func lzmaBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// releaseFor builds a Release listing files with MD5Sum and SHA256
// digests. Paths in md5Only get no SHA256 line.
func releaseFor(t *testing.T, extra string, files map[string][]byte, md5Only ...string) *apt.Release {
	t.Helper()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var doc strings.Builder
	doc.WriteString(extra)
	doc.WriteString(releaseHeader)
	doc.WriteString("MD5Sum:\n")
	for _, p := range paths {
		sum := md5.Sum(files[p]) // #nosec G401 - MD5Sum sections are part of the format
		doc.WriteString(" " + hex.EncodeToString(sum[:]) + " " + strconv.Itoa(len(files[p])) + " " + p + "\n")
	}
	doc.WriteString("SHA256:\n")
	for _, p := range paths {
		if slices.Contains(md5Only, p) {
			continue
		}
		sum := sha256.Sum256(files[p])
		doc.WriteString(" " + hex.EncodeToString(sum[:]) + " " + strconv.Itoa(len(files[p])) + " " + p + "\n")
	}

	rel, err := apt.ParseRelease(strings.NewReader(doc.String()))
	if err != nil {
		t.Fatalf("failed to parse generated release: %v\n%s", err, doc.String())
	}
	return rel
}

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for p, data := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCheck(t *testing.T) {
	t.Parallel()

	rel := releaseFor(t, "", map[string][]byte{"main/binary-amd64/Packages": []byte(packages)})
	fe, _ := rel.Manifest().Get("main/binary-amd64/Packages")

	if err := Check(fe, strings.NewReader(packages)); err != nil {
		t.Errorf("Check() on matching content: %v", err)
	}

	var buf bytes.Buffer
	n, err := CheckCopy(&buf, strings.NewReader(packages), fe)
	if err != nil || n != int64(len(packages)) || buf.String() != packages {
		t.Errorf("CheckCopy() = %d, %v; copied %q", n, err, buf.String())
	}

	tests := []struct {
		name    string
		content string
		what    string
	}{
		{"truncated", packages[:10], "size"},
		{"same size different content", strings.Replace(packages, "hello", "HELLO", 1), "MD5Sum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(fe, strings.NewReader(tt.content))
			var mismatch *MismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("err = %v, want *MismatchError", err)
			}
			if mismatch.What != tt.what {
				t.Errorf("mismatch.What = %q, want %q", mismatch.What, tt.what)
			}
		})
	}
}

func TestDecompress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		compression apt.Compression
		data        []byte
	}{
		{apt.CompressionNone, []byte(packages)},
		{apt.CompressionGzip, gzipBytes(t, packages)},
		{apt.CompressionXZ, xzBytes(t, packages)},
		{apt.CompressionLZMA, lzmaBytes(t, packages)},
	}
	for _, tt := range tests {
		t.Run(tt.compression.String(), func(t *testing.T) {
			r, err := Decompress(tt.compression, bytes.NewReader(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != packages {
				t.Errorf("decompressed %q", got)
			}
		})
	}

	if _, err := Decompress(apt.CompressionXZ, strings.NewReader("not xz")); err == nil {
		t.Error("expected error for bad xz header")
	}
	if _, err := Decompress(apt.CompressionGzip, strings.NewReader("not gzip")); err == nil {
		t.Error("expected error for bad gzip header")
	}
}

func TestSelectionMatches(t *testing.T) {
	t.Parallel()

	rel := releaseFor(t, "", map[string][]byte{"main/binary-amd64/Packages": nil})
	sel, err := Selection{
		Components:    []string{"main"},
		Architectures: []string{"amd64"},
		Languages:     []string{"en"},
	}.resolve(rel)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"main/binary-amd64/Packages", true},
		{"main/binary-amd64/Release", true},
		{"main/binary-all/Packages", true},
		{"main/binary-arm64/Packages", false},
		{"contrib/binary-amd64/Packages", false},
		{"main/source/Sources", false},
		{"main/i18n/Translation-en", true},
		{"main/i18n/Translation-de", false},
		{"main/i18n/Index", true},
		{"main/Contents-amd64", false},
		{"Release", false},
	}
	for _, tt := range tests {
		if got := sel.Matches(tt.name); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	sel.Sources = true
	sel.Contents = true
	for _, name := range []string{"main/source/Sources", "main/source/Release", "main/Contents-amd64", "Contents-amd64", "main/Contents-source"} {
		if !sel.Matches(name) {
			t.Errorf("Matches(%q) = false with sources and contents selected", name)
		}
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"main/binary-amd64/Packages":    []byte(packages),
		"main/binary-amd64/Packages.gz": gzipBytes(t, packages),
		"main/binary-amd64/Packages.xz": xzBytes(t, packages),
		"main/binary-arm64/Packages.gz": gzipBytes(t, packages),
		"contrib/binary-amd64/Packages": nil,
		"main/source/Sources.xz":        xzBytes(t, ""),
	}
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	t.Run("default selection", func(t *testing.T) {
		rel := releaseFor(t, "", files)
		plan, err := Plan(rel, Selection{}, Policy{}, now)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, tgt := range plan.Targets {
			got = append(got, tgt.Entry.Path())
		}
		want := []string{"contrib/binary-amd64/Packages", "main/binary-amd64/Packages.xz", "main/binary-arm64/Packages.gz"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("targets mismatch (-want +got):\n%s", diff)
		}
		if plan.ByHash {
			t.Error("plan.ByHash without Acquire-By-Hash")
		}
		if len(plan.Targets[1].Paths) != 1 {
			t.Errorf("paths = %v, want only the plain path", plan.Targets[1].Paths)
		}
	})

	t.Run("by-hash", func(t *testing.T) {
		rel := releaseFor(t, "Acquire-By-Hash: yes\n", files)
		plan, err := Plan(rel, Selection{Components: []string{"main"}, Architectures: []string{"amd64"}}, Policy{}, now)
		if err != nil {
			t.Fatal(err)
		}
		if !plan.ByHash || len(plan.Targets) != 1 {
			t.Fatalf("plan = %+v", plan)
		}
		tgt := plan.Targets[0]
		sum := sha256.Sum256(files["main/binary-amd64/Packages.xz"])
		want := []string{
			"main/binary-amd64/by-hash/SHA256/" + hex.EncodeToString(sum[:]),
			tgt.Paths[1],
			"main/binary-amd64/Packages.xz",
		}
		if diff := cmp.Diff(want, tgt.Paths); diff != "" {
			t.Errorf("paths mismatch (-want +got):\n%s", diff)
		}
		if !strings.Contains(tgt.Paths[1], "/by-hash/MD5Sum/") {
			t.Errorf("second candidate = %q, want the MD5Sum by-hash path", tgt.Paths[1])
		}
		if plan.TotalSize != uint64(len(files["main/binary-amd64/Packages.xz"])) {
			t.Errorf("plan.TotalSize = %d", plan.TotalSize)
		}
		if got := URLPath("dists/bookworm", tgt.Paths[2]); got != "dists/bookworm/main/binary-amd64/Packages.xz" {
			t.Errorf("URLPath = %q", got)
		}
	})

	t.Run("require sha256 falls back to a weaker compression", func(t *testing.T) {
		rel := releaseFor(t, "", files, "main/binary-amd64/Packages.xz")
		plan, err := Plan(rel, Selection{Components: []string{"main"}, Architectures: []string{"amd64"}}, Policy{RequireSHA256: true}, now)
		if err != nil {
			t.Fatal(err)
		}
		if got := plan.Targets[0].Entry.Path(); got != "main/binary-amd64/Packages.gz" {
			t.Errorf("target = %q, want the gzip variant", got)
		}
	})

	t.Run("require sha256 without any", func(t *testing.T) {
		rel := releaseFor(t, "", files, "main/binary-arm64/Packages.gz")
		_, err := Plan(rel, Selection{Architectures: []string{"arm64"}}, Policy{RequireSHA256: true}, now)
		var wde *WeakDigestError
		if !errors.As(err, &wde) {
			t.Fatalf("err = %v, want *WeakDigestError", err)
		}
		if wde.Path != "main/binary-arm64/Packages" {
			t.Errorf("wde.Path = %q", wde.Path)
		}
	})

	t.Run("unknown component", func(t *testing.T) {
		rel := releaseFor(t, "", files)
		_, err := Plan(rel, Selection{Components: []string{"non-free"}}, Policy{}, now)
		var use *UnknownSelectionError
		if !errors.As(err, &use) || use.Kind != "component" {
			t.Fatalf("err = %v, want *UnknownSelectionError for a component", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		rel := releaseFor(t, "", files)
		later := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
		_, err := Plan(rel, Selection{}, Policy{CheckValidUntil: true}, later)
		var ee *ExpiredError
		if !errors.As(err, &ee) {
			t.Fatalf("err = %v, want *ExpiredError", err)
		}
		if _, err := Plan(rel, Selection{}, Policy{}, later); err != nil {
			t.Errorf("expiry checked without CheckValidUntil: %v", err)
		}
	})
}

func TestCheckTree(t *testing.T) {
	t.Parallel()

	listed := map[string][]byte{
		"main/binary-amd64/Packages":    []byte(packages),
		"main/binary-amd64/Packages.xz": xzBytes(t, packages),
		"main/binary-arm64/Packages":    []byte(packages),
		"main/binary-arm64/Packages.gz": gzipBytes(t, packages),
		"contrib/binary-amd64/Packages": []byte("Package: extra\n"),
		"main/i18n/Translation-en.lzma": lzmaBytes(t, "Package: hello\n"),
	}
	rel := releaseFor(t, "", listed)

	// the mirror keeps only compressed indices for main, and one file is corrupt
	onDisk := map[string][]byte{
		"main/binary-amd64/Packages.xz": listed["main/binary-amd64/Packages.xz"],
		"main/binary-arm64/Packages":    []byte(strings.ToUpper(packages)),
		"main/binary-arm64/Packages.gz": listed["main/binary-arm64/Packages.gz"],
		"main/i18n/Translation-en.lzma": listed["main/i18n/Translation-en.lzma"],
	}
	root := writeTree(t, onDisk)

	var progress bytes.Buffer
	report, err := CheckTree(context.Background(), root, rel, TreeOptions{MaxConns: 2, Progress: &progress})
	if err != nil {
		t.Fatal(err)
	}

	wantVerified := []string{"main/binary-amd64/Packages.xz", "main/binary-arm64/Packages.gz", "main/i18n/Translation-en.lzma"}
	if diff := cmp.Diff(wantVerified, report.Verified); diff != "" {
		t.Errorf("verified mismatch (-want +got):\n%s", diff)
	}
	wantVia := map[string]string{"main/binary-amd64/Packages": "main/binary-amd64/Packages.xz"}
	if diff := cmp.Diff(wantVia, report.VerifiedVia); diff != "" {
		t.Errorf("verified-via mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"contrib/binary-amd64/Packages"}, report.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0].Path != "main/binary-arm64/Packages" {
		t.Errorf("report.Mismatched = %v", report.Mismatched)
	}
	if report.OK() {
		t.Error("report.OK() = true")
	}

	sel := &Selection{Components: []string{"main"}, Architectures: []string{"amd64"}}
	report, err = CheckTree(context.Background(), root, rel, TreeOptions{Selection: sel})
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Errorf("selected subtree not OK: %+v", report)
	}
}

func TestCheckTreeCorruptCompressedSibling(t *testing.T) {
	t.Parallel()

	xzData := xzBytes(t, packages)
	listed := map[string][]byte{
		"main/binary-amd64/Packages":    []byte(packages),
		"main/binary-amd64/Packages.xz": xzData,
	}
	rel := releaseFor(t, "", listed)

	corrupt := slices.Clone(xzData)
	corrupt[len(corrupt)/2] ^= 0xff
	root := writeTree(t, map[string][]byte{"main/binary-amd64/Packages.xz": corrupt})

	report, err := CheckTree(context.Background(), root, rel, TreeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Mismatched) != 2 {
		t.Errorf("report.Mismatched = %v, want both the xz file and its uncompressed form", report.Mismatched)
	}
}

func TestCheckTreeByHash(t *testing.T) {
	t.Parallel()

	listed := map[string][]byte{"main/binary-amd64/Packages.xz": xzBytes(t, packages)}
	rel := releaseFor(t, "Acquire-By-Hash: yes\n", listed)
	fe, _ := rel.Manifest().Get("main/binary-amd64/Packages.xz")

	root := writeTree(t, map[string][]byte{fe.ByHashPath(apt.SHA256): listed["main/binary-amd64/Packages.xz"]})
	report, err := CheckTree(context.Background(), root, rel, TreeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || len(report.Verified) != 1 {
		t.Errorf("by-hash copy not verified: %+v", report)
	}
}

func TestCheckTreeCanceled(t *testing.T) {
	t.Parallel()

	rel := releaseFor(t, "", map[string][]byte{"main/binary-amd64/Packages": []byte(packages)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CheckTree(ctx, t.TempDir(), rel, TreeOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.50 KiB"},
		{5 << 30, "5.00 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
