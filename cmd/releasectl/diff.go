package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	debversion "github.com/knqyf263/go-deb-version"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

type fieldChange struct {
	Name     string
	Old, New string
}

// releaseDiff is the difference between two releases of one suite.
type releaseDiff struct {
	Fields  []fieldChange
	Added   []apt.FileEntry
	Removed []apt.FileEntry
	Changed []apt.FileEntry // entries of the new release

	// Warnings name regressions: an older Version or Date.
	Warnings []string
}

func (d *releaseDiff) empty() bool {
	return len(d.Fields) == 0 && len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func compareReleases(older, newer *apt.Release) *releaseDiff {
	d := &releaseDiff{}
	field := func(name, o, n string) {
		if o != n {
			d.Fields = append(d.Fields, fieldChange{Name: name, Old: o, New: n})
		}
	}
	date := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC1123)
	}
	validUntil := func(r *apt.Release) string {
		t, _ := r.ValidUntil()
		return date(t)
	}

	field("Origin", older.Origin(), newer.Origin())
	field("Label", older.Label(), newer.Label())
	field("Suite", older.Suite(), newer.Suite())
	field("Codename", older.Codename(), newer.Codename())
	field("Version", older.Version(), newer.Version())
	field("Description", older.Description(), newer.Description())
	field("Date", date(older.Date()), date(newer.Date()))
	field("Valid-Until", validUntil(older), validUntil(newer))
	field("Components", strings.Join(older.Components(), " "), strings.Join(newer.Components(), " "))
	field("Architectures", strings.Join(older.Architectures(), " "), strings.Join(newer.Architectures(), " "))
	field("NotAutomatic", older.NotAutomatic().String(), newer.NotAutomatic().String())
	field("ButAutomaticUpgrades", older.ButAutomaticUpgrades().String(), newer.ButAutomaticUpgrades().String())
	field("Acquire-By-Hash", older.AcquireByHash().String(), newer.AcquireByHash().String())
	field("Signed-By", strings.Join(older.SignedBy(), ", "), strings.Join(newer.SignedBy(), ", "))

	om, nm := older.Manifest(), newer.Manifest()
	for _, fe := range nm.Entries() {
		prev, ok := om.Get(fe.Path())
		switch {
		case !ok:
			d.Added = append(d.Added, fe)
		case !prev.Same(fe):
			d.Changed = append(d.Changed, fe)
		}
	}
	for _, fe := range om.Entries() {
		if _, ok := nm.Get(fe.Path()); !ok {
			d.Removed = append(d.Removed, fe)
		}
	}

	if older.Version() != "" && newer.Version() != "" {
		v1, err1 := debversion.NewVersion(older.Version())
		v2, err2 := debversion.NewVersion(newer.Version())
		if err1 == nil && err2 == nil && v2.LessThan(v1) {
			d.Warnings = append(d.Warnings,
				fmt.Sprintf("Version goes backwards: %s -> %s", older.Version(), newer.Version()))
		}
	}
	if newer.Date().Before(older.Date()) {
		d.Warnings = append(d.Warnings,
			fmt.Sprintf("Date goes backwards: %s -> %s", date(older.Date()), date(newer.Date())))
	}
	return d
}

func diffReleases(w io.Writer, oldPath, newPath string) error {
	older, _, err := apt.ParseFile(oldPath)
	if err != nil {
		return err
	}
	newer, _, err := apt.ParseFile(newPath)
	if err != nil {
		return err
	}
	return writeDiff(w, compareReleases(older, newer))
}

func writeDiff(w io.Writer, d *releaseDiff) error {
	add := color.New(color.FgGreen).SprintFunc()
	del := color.New(color.FgRed).SprintFunc()
	mod := color.New(color.FgYellow).SprintFunc()

	for _, warning := range d.Warnings {
		fmt.Fprintf(w, "%s %s\n", del("WARNING"), warning)
	}
	if d.empty() {
		_, err := fmt.Fprintln(w, "releases are identical")
		return err
	}

	for _, f := range d.Fields {
		fmt.Fprintf(w, "%s %s: %q -> %q\n", mod("~"), f.Name, f.Old, f.New)
	}
	for _, fe := range d.Removed {
		fmt.Fprintf(w, "%s %s\n", del("-"), fe.Path())
	}
	for _, fe := range d.Added {
		fmt.Fprintf(w, "%s %s (%s)\n", add("+"), fe.Path(), fetch.FormatBytes(fe.Size()))
	}
	for _, fe := range d.Changed {
		fmt.Fprintf(w, "%s %s (%s)\n", mod("~"), fe.Path(), fetch.FormatBytes(fe.Size()))
	}
	_, err := fmt.Fprintf(w, "%d fields changed, %d files added, %d removed, %d changed\n",
		len(d.Fields), len(d.Added), len(d.Removed), len(d.Changed))
	return err
}
