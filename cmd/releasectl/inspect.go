package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

func inspect(w io.Writer, p, format string, files bool) error {
	rel, env, err := apt.ParseFile(p)
	if err != nil {
		return err
	}

	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(rel.View(), "", "  ")
		if err != nil {
			return errors.Wrap(err, "json")
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rel.View()); err != nil {
			return errors.Wrap(err, "yaml")
		}
		return enc.Close()
	case "text", "":
		return writeText(w, rel, env, files)
	}
	return errors.Newf("unknown output format %q", format)
}

func writeText(w io.Writer, rel *apt.Release, env *apt.Envelope, files bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	row := func(name, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", name, value)
		}
	}

	row("Origin", rel.Origin())
	row("Label", rel.Label())
	row("Suite", rel.Suite())
	row("Codename", rel.Codename())
	row("Version", rel.Version())
	row("Description", rel.Description())
	row("Date", rel.Date().Format(time.RFC1123))
	if vu, ok := rel.ValidUntil(); ok {
		row("Valid-Until", vu.Format(time.RFC1123))
	}
	row("Components", strings.Join(rel.Components(), " "))
	row("Architectures", strings.Join(rel.Architectures(), " "))
	row("NotAutomatic", rel.NotAutomatic().String())
	row("ButAutomaticUpgrades", rel.ButAutomaticUpgrades().String())
	row("Acquire-By-Hash", rel.AcquireByHash().String())
	row("Signed-By", strings.Join(rel.SignedBy(), ", "))
	if env.Signed() {
		row("Signed", "yes ("+strings.Join(env.HashAlgorithms, ", ")+")")
	} else {
		row("Signed", "no")
	}
	m := rel.Manifest()
	row("Files", fmt.Sprintf("%d (%s)", m.Len(), fetch.FormatBytes(m.TotalSize())))
	for _, a := range apt.DigestAlgorithms {
		if missing := m.WithoutDigest(a); len(missing) > 0 && len(missing) < m.Len() {
			row("Without "+a.String(), fmt.Sprintf("%d", len(missing)))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !files {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, fe := range m.Entries() {
		a, d := fe.Strongest()
		fmt.Fprintf(tw, "%d\t%s\t%s:%s\t%s\n", fe.Size(), fe.Compression(), a, d[:16], fe.Path())
	}
	return tw.Flush()
}
