package main

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

func checkRelease(ctx context.Context, w io.Writer, p, dir string, opts fetch.TreeOptions) error {
	rel, _, err := apt.ParseFile(p)
	if err != nil {
		return err
	}
	report, err := fetch.CheckTree(ctx, dir, rel, opts)
	if err != nil {
		return err
	}

	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	for _, m := range report.Mismatched {
		fmt.Fprintf(w, "%s %s: %v\n", bad("MISMATCH"), m.Path, m.Err)
	}
	for _, p := range report.Missing {
		fmt.Fprintf(w, "%s  %s\n", warn("MISSING"), p)
	}
	fmt.Fprintf(w, "%d verified, %d through a compressed variant, %d missing, %d mismatched\n",
		len(report.Verified), len(report.VerifiedVia), len(report.Missing), len(report.Mismatched))

	if !report.OK() {
		return errors.Newf("%d files missing, %d files mismatched", len(report.Missing), len(report.Mismatched))
	}
	return nil
}
