package main

import (
	"fmt"
	"io"
	"time"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

func planRelease(w io.Writer, p string, sel fetch.Selection, policy fetch.Policy, releaseDir string, now time.Time) error {
	rel, _, err := apt.ParseFile(p)
	if err != nil {
		return err
	}
	plan, err := fetch.Plan(rel, sel, policy, now)
	if err != nil {
		return err
	}

	for _, t := range plan.Targets {
		fmt.Fprintf(w, "%s\t%s\n", t.Name, fetch.FormatBytes(t.Entry.Size()))
		for _, candidate := range t.Paths {
			fmt.Fprintf(w, "  %s\n", fetch.URLPath(releaseDir, candidate))
		}
	}
	_, err = fmt.Fprintf(w, "%d files, %s\n", len(plan.Targets), fetch.FormatBytes(plan.TotalSize))
	return err
}
