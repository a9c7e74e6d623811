package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

const (
	defaultRetries   = 3
	defaultRetryWait = time.Second
	userAgent        = "Debian APT-HTTP/1.3 (releasectl)"
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return "status " + http.StatusText(e.Status) + " for " + e.URL
}

// NotFound returns true for 404 and 410.
func (e *StatusError) NotFound() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// DownloaderOptions controls a Downloader.
type DownloaderOptions struct {
	// MaxConns limits concurrent downloads; zero means DefaultMaxConns.
	MaxConns int
	// Retries is the number of attempts per URL when requests fail with
	// a network or server error; zero means 3.
	Retries int
	// RetryWait is the pause between attempts; zero means one second.
	RetryWait time.Duration
	// Progress, if not nil, receives a progress bar.
	Progress io.Writer
	// Client, if not nil, replaces the default HTTP client.
	Client *http.Client
}

// Downloader retrieves the files of a FetchPlan from a repository.
type Downloader struct {
	client *http.Client
	base   *url.URL
	opts   DownloaderOptions
}

// NewDownloader creates a Downloader for the repository at base,
// e.g. "http://deb.debian.org/debian".
func NewDownloader(base string, opts DownloaderOptions) (*Downloader, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, "repository URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("unsupported URL scheme %q", u.Scheme)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	client := opts.Client
	if client == nil {
		client = clonedTransport()
	}
	return &Downloader{client: client, base: u, opts: opts}, nil
}

// Resolve returns the URL of p, a path relative to the repository root.
func (d *Downloader) Resolve(p string) *url.URL {
	u := *d.base
	u.Path = path.Join(u.Path, p)
	u.RawPath = ""
	return &u
}

// Get returns the content at p, a path relative to the repository root.
// It is meant for Release files, which are read whole.
func (d *Downloader) Get(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := d.retry(ctx, p, func(body io.Reader) error {
		var err error
		data, err = io.ReadAll(body)
		return err
	})
	return data, err
}

// DownloadReport is the result of Downloader.Download.
type DownloadReport struct {
	Downloaded []string
	// Reused lists files already present with the right content.
	Reused []string
	// Missing lists targets none of whose candidate paths exist.
	Missing []string
}

// Download retrieves every target of plan into st. releaseDir is the
// repository path of the Release file, e.g. "dists/bookworm".
//
// A target is tried at each of its candidate paths in turn; content
// that does not match the release moves on to the next candidate.
// Targets that already exist in st with the right content are reused.
func (d *Downloader) Download(ctx context.Context, plan *FetchPlan, releaseDir string, st *Store) (*DownloadReport, error) {
	var bar *pb.ProgressBar
	if d.opts.Progress != nil {
		bar = pb.New64(int64(plan.TotalSize)).Set(pb.Bytes, true).SetWriter(d.opts.Progress).Start() // #nosec G115 - sizes of real files fit int64
		defer bar.Finish()
	}

	var (
		mu     sync.Mutex
		report DownloadReport
	)
	add := func(list *[]string, p string) {
		mu.Lock()
		defer mu.Unlock()
		*list = append(*list, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.MaxConns)
	for _, t := range plan.Targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if st.Lookup(t.Entry) {
				slog.Debug("reusing existing file", "path", t.Entry.Path())
				if bar != nil {
					bar.Add64(int64(t.Entry.Size())) // #nosec G115 - sizes of real files fit int64
				}
				add(&report.Reused, t.Entry.Path())
				return nil
			}
			err := d.download(gctx, t, releaseDir, plan.ByHash, st, bar)
			var status *StatusError
			switch {
			case err == nil:
				add(&report.Downloaded, t.Entry.Path())
			case errors.As(err, &status) && status.NotFound():
				slog.Warn("missing file", "path", t.Entry.Path())
				add(&report.Missing, t.Entry.Path())
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := st.Sync(); err != nil {
		return nil, err
	}

	slices.Sort(report.Downloaded)
	slices.Sort(report.Reused)
	slices.Sort(report.Missing)
	slog.Info("download stats", "total", len(plan.Targets), "downloaded", len(report.Downloaded),
		"reused", len(report.Reused), "missing", len(report.Missing))
	return &report, nil
}

// download tries the candidate paths of t until one yields content
// matching the release. If none does, a content mismatch is reported in
// preference to a missing file.
func (d *Downloader) download(ctx context.Context, t Target, releaseDir string, byHash bool, st *Store, bar *pb.ProgressBar) error {
	var lastErr, mismatchErr error
	for i, candidate := range t.Paths {
		if i > 0 {
			slog.Warn("try next candidate", "path", t.Entry.Path(), "target", candidate, "error", lastErr)
		}
		tmp, err := st.TempFile()
		if err != nil {
			return err
		}
		err = d.retry(ctx, URLPath(releaseDir, candidate), func(body io.Reader) error {
			if _, err := tmp.Seek(0, io.SeekStart); err != nil {
				return err
			}
			if err := tmp.Truncate(0); err != nil {
				return err
			}
			var src io.Reader = body
			if bar != nil {
				src = bar.NewProxyReader(body)
			}
			_, err := CheckCopy(tmp, src, t.Entry)
			return err
		})
		if err == nil {
			err = d.store(tmp, t.Entry, byHash, st)
		} else {
			closeAndRemoveFile(tmp)
		}

		var mismatch *MismatchError
		var status *StatusError
		switch {
		case err == nil:
			slog.Debug("file downloaded successfully", "path", t.Entry.Path(), "size", t.Entry.Size())
			return nil
		case errors.As(err, &mismatch):
			if mismatchErr == nil {
				mismatchErr = err
			}
			lastErr = err
		case errors.As(err, &status) && status.NotFound():
			lastErr = err
		default:
			return err
		}
	}
	if mismatchErr != nil {
		return mismatchErr
	}
	return lastErr
}

func (d *Downloader) store(tmp *os.File, fe apt.FileEntry, byHash bool, st *Store) error {
	defer closeAndRemoveFile(tmp)
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "tempfile.Sync failed")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "chmod")
	}
	return st.StoreLink(fe, tmp.Name(), byHash)
}

// retry requests p and hands a 200 response body to read. Network
// errors and 5xx statuses are retried; other statuses are returned
// as a StatusError.
func (d *Downloader) retry(ctx context.Context, p string, read func(io.Reader) error) error {
	u := d.Resolve(p)
	var lastErr error
	for attempt := 0; attempt < d.opts.Retries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying download", "url", u.String(), "attempt", attempt+1, "max_attempts", d.opts.Retries, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.opts.RetryWait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return errors.WithStack(err)
		}
		// imitation apt-get command
		req.Header.Add("Cache-Control", "max-age=0")
		req.Header.Add("User-Agent", userAgent)

		resp, err := d.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = errors.WithStack(err)
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = errors.WithStack(&StatusError{URL: u.String(), Status: resp.StatusCode})
			closeRespBody(resp)
			continue
		case resp.StatusCode != http.StatusOK:
			closeRespBody(resp)
			return errors.WithStack(&StatusError{URL: u.String(), Status: resp.StatusCode})
		}

		err = read(resp.Body)
		closeRespBody(resp)
		var mismatch *MismatchError
		if err == nil || errors.As(err, &mismatch) {
			return err
		}
		// a broken connection mid-body
		lastErr = err
	}
	return errors.Wrapf(lastErr, "download failed for %s after %d attempts", u, d.opts.Retries)
}

// closeRespBody closes HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// closeAndRemoveFile closes and removes a temporary file.
func closeAndRemoveFile(f *os.File) {
	filename := f.Name()
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("failed to close temp file", "file", filename, "error", err)
	}
	if err := os.Remove(filename); err != nil {
		slog.Warn("failed to remove temp file", "file", filename, "error", err)
	}
}

// clonedTransport creates a new HTTP client with tuned transport settings.
func clonedTransport() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second

	return &http.Client{
		Transport: tr,
		Timeout:   0, // no timeout; timeout is controlled by context
	}
}
