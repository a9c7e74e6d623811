package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

type fetchOptions struct {
	Keyrings  []string
	NoVerify  bool
	Selection fetch.Selection
	Policy    fetch.Policy
	Download  fetch.DownloaderOptions
	Now       time.Time
}

// fetchRelease mirrors the Release file at releaseDir of the repository
// at base, and the index files it lists, into dest. The Release file is
// written last so that dest never holds a release whose files are absent.
func fetchRelease(ctx context.Context, w io.Writer, base, releaseDir, dest string, opts fetchOptions) error {
	releaseDir = path.Clean(releaseDir)
	d, err := fetch.NewDownloader(base, opts.Download)
	if err != nil {
		return err
	}

	// InRelease first, then Release with its detached signature
	release := map[string][]byte{}
	raw, err := d.Get(ctx, path.Join(releaseDir, "InRelease"))
	var sig []byte
	var status *fetch.StatusError
	switch {
	case err == nil:
		release["InRelease"] = raw
	case errors.As(err, &status) && status.NotFound():
		slog.Info("no InRelease, trying Release", "url", d.Resolve(releaseDir).String())
		raw, err = d.Get(ctx, path.Join(releaseDir, "Release"))
		if err != nil {
			return err
		}
		release["Release"] = raw
		if !opts.NoVerify {
			sig, err = d.Get(ctx, path.Join(releaseDir, "Release.gpg"))
			if err != nil {
				return err
			}
			release["Release.gpg"] = sig
		}
	default:
		return err
	}

	var rel *apt.Release
	if opts.NoVerify {
		slog.Warn("skipping signature verification")
		rel, _, err = apt.Parse(bytes.NewReader(raw))
	} else {
		rel, _, err = verifyBytes(raw, sig, opts.Keyrings)
	}
	if err != nil {
		return err
	}

	plan, err := fetch.Plan(rel, opts.Selection, opts.Policy, opts.Now)
	if err != nil {
		return err
	}
	st, err := fetch.NewStore(filepath.Join(dest, filepath.FromSlash(releaseDir)))
	if err != nil {
		return err
	}
	report, err := d.Download(ctx, plan, releaseDir, st)
	if err != nil {
		return err
	}

	for _, name := range []string{"Release", "Release.gpg", "InRelease"} {
		if data, ok := release[name]; ok {
			if err := st.WriteFile(name, data); err != nil {
				return err
			}
		}
	}
	if err := fetch.DirSync(st.Dir()); err != nil {
		return err
	}

	for _, p := range report.Missing {
		fmt.Fprintf(w, "missing: %s\n", p)
	}
	_, err = fmt.Fprintf(w, "%s %s: %d downloaded, %d reused, %d missing (%s)\n",
		rel.Suite(), rel.Codename(), len(report.Downloaded), len(report.Reused), len(report.Missing),
		fetch.FormatBytes(plan.TotalSize))
	return err
}
