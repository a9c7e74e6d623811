package fetch

import (
	"cmp"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// DefaultMaxConns is the default number of files checked concurrently.
const DefaultMaxConns = 10

// TreeOptions controls CheckTree.
type TreeOptions struct {
	// MaxConns limits concurrent file checks; zero means DefaultMaxConns.
	MaxConns int
	// Selection, if not nil, limits the check to selected artifacts.
	Selection *Selection
	// Progress, if not nil, receives a progress bar.
	Progress io.Writer
}

// Mismatch is a file that failed its check.
type Mismatch struct {
	Path string
	Err  error
}

// Report is the result of CheckTree.
type Report struct {
	// Verified lists files whose content matched the manifest.
	Verified []string
	// VerifiedVia maps an absent uncompressed file to the compressed
	// sibling through which its content was verified.
	VerifiedVia map[string]string
	Missing     []string
	Mismatched  []Mismatch
}

// OK returns true if nothing was missing or mismatched.
func (r *Report) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

type treeChecker struct {
	root     string
	rel      *apt.Release
	variants *apt.VariantIndex
	bar      *pb.ProgressBar

	mu     sync.Mutex
	report Report
}

// CheckTree checks a local copy of the files rel lists. root is the
// directory holding the Release file.
//
// Integrity failures are collected in the Report; an error is returned
// only when files cannot be read for another reason.
func CheckTree(ctx context.Context, root string, rel *apt.Release, opts TreeOptions) (*Report, error) {
	entries := rel.Manifest().Entries()
	if opts.Selection != nil {
		sel, err := opts.Selection.resolve(rel)
		if err != nil {
			return nil, err
		}
		entries = slices.DeleteFunc(entries, func(fe apt.FileEntry) bool {
			_, name := apt.SplitCompression(fe.Path())
			return !sel.Matches(name)
		})
	}

	tc := &treeChecker{
		root:     root,
		rel:      rel,
		variants: rel.Variants(),
		report:   Report{VerifiedVia: make(map[string]string)},
	}
	if opts.Progress != nil {
		var total uint64
		for _, fe := range entries {
			total += fe.Size()
		}
		tc.bar = pb.New64(int64(total)).Set(pb.Bytes, true).SetWriter(opts.Progress).Start() // #nosec G115 - sizes of real files fit int64
		defer tc.bar.Finish()
	}

	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConns)
	for _, fe := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return tc.check(gctx, fe)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &tc.report
	slices.Sort(r.Verified)
	slices.Sort(r.Missing)
	slices.SortFunc(r.Mismatched, func(a, b Mismatch) int {
		return cmp.Compare(a.Path, b.Path)
	})
	slog.Info("tree check complete", "root", root,
		"verified", len(r.Verified), "via_sibling", len(r.VerifiedVia),
		"missing", len(r.Missing), "mismatched", len(r.Mismatched))
	return r, nil
}

func (tc *treeChecker) check(ctx context.Context, fe apt.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := tc.checkFile(fe, tc.localPath(fe.Path()), apt.CompressionNone)
	if errors.Is(err, fs.ErrNotExist) && tc.rel.AcquireByHash().IsTrue() {
		// repositories with Acquire-By-Hash may only keep the by-hash copy
		for _, p := range fe.ByHashPaths() {
			err = tc.checkFile(fe, tc.localPath(p), apt.CompressionNone)
			if !errors.Is(err, fs.ErrNotExist) {
				break
			}
		}
	}
	if errors.Is(err, fs.ErrNotExist) && fe.Compression() == apt.CompressionNone {
		var via string
		via, err = tc.checkThroughSibling(fe)
		if err == nil {
			tc.mu.Lock()
			tc.report.VerifiedVia[fe.Path()] = via
			tc.mu.Unlock()
			slog.Debug("verified through compressed sibling", "path", fe.Path(), "via", via)
			return nil
		}
	}
	return tc.record(fe, err)
}

func (tc *treeChecker) record(fe apt.FileEntry, err error) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	var mismatch *MismatchError
	switch {
	case err == nil:
		tc.report.Verified = append(tc.report.Verified, fe.Path())
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("missing file", "path", fe.Path())
		tc.report.Missing = append(tc.report.Missing, fe.Path())
	case errors.As(err, &mismatch):
		slog.Warn("file does not match the release", "path", fe.Path(), "error", err)
		tc.report.Mismatched = append(tc.report.Mismatched, Mismatch{Path: fe.Path(), Err: err})
	default:
		return err
	}
	return nil
}

// checkFile checks the file at p, decompressed with c, against fe.
func (tc *treeChecker) checkFile(fe apt.FileEntry, p string, c apt.Compression) error {
	f, err := os.Open(p) // #nosec G304 - paths were validated by the parser
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if tc.bar != nil && c == apt.CompressionNone {
		src = tc.bar.NewProxyReader(f)
	}
	r, err := Decompress(c, src)
	if err != nil {
		return errors.WithStack(&MismatchError{Path: fe.Path(), What: "compression", Want: c.String(), Got: err.Error()})
	}
	defer r.Close()

	if err := Check(fe, r); err != nil {
		var mismatch *MismatchError
		if errors.As(err, &mismatch) || c == apt.CompressionNone {
			return err
		}
		// a corrupt compressed stream is a content mismatch, not an I/O failure
		return errors.WithStack(&MismatchError{Path: fe.Path(), What: "compression", Want: c.String(), Got: err.Error()})
	}
	return nil
}

// checkThroughSibling verifies the content of an absent uncompressed
// file by decompressing a present compressed variant of it.
func (tc *treeChecker) checkThroughSibling(fe apt.FileEntry) (string, error) {
	siblings, _ := tc.variants.Lookup(fe.Path())
	for _, sib := range siblings {
		if sib.Compression() == apt.CompressionNone {
			continue
		}
		err := tc.checkFile(fe, tc.localPath(sib.Path()), sib.Compression())
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return sib.Path(), err
	}
	return "", errors.WithStack(fs.ErrNotExist)
}

func (tc *treeChecker) localPath(p string) string {
	return filepath.Join(tc.root, filepath.FromSlash(p))
}
