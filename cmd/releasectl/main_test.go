package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mirrorctl/aptrelease/internal/apt"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

func init() {
	color.NoColor = true
}

const (
	amd64Packages = "Package: hello\nVersion: 2.10-3\n"
	arm64Packages = "Package: hello\nVersion: 2.10-3\nArchitecture: arm64\n"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// releaseDoc returns a Release listing the given files with SHA256 sums.
func releaseDoc(header string, files map[string]string, order ...string) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("SHA256:\n")
	for _, p := range order {
		fmt.Fprintf(&b, " %s %d %s\n", sha256Hex(files[p]), len(files[p]), p)
	}
	return b.String()
}

const header = `Origin: Debian
Suite: stable
Codename: bookworm
Version: 12.5
Date: Sat, 10 Feb 2024 10:00:00 UTC
Architectures: amd64 arm64
Components: main
`

var treeFiles = map[string]string{
	"main/binary-amd64/Packages": amd64Packages,
	"main/binary-arm64/Packages": arm64Packages,
}

var treeOrder = []string{"main/binary-amd64/Packages", "main/binary-arm64/Packages"}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInspect(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "Release", releaseDoc(header, treeFiles, treeOrder...))

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := inspect(&buf, p, "text", true); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{
			"Codename:",
			"bookworm",
			"Signed:",
			"no",
			"Files:",
			"main/binary-arm64/Packages",
			"SHA256:" + sha256Hex(amd64Packages)[:16],
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output does not contain %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "Valid-Until") {
			t.Errorf("output shows an absent Valid-Until:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := inspect(&buf, p, "JSON", false); err != nil {
			t.Fatal(err)
		}
		var v apt.ReleaseView
		if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
			t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
		}
		if v.Codename != "bookworm" || len(v.Files) != 2 {
			t.Errorf("unexpected view: %+v", v)
		}
		if v.Files[0].SHA256 != sha256Hex(amd64Packages) {
			t.Errorf("v.Files[0].SHA256 = %s", v.Files[0].SHA256)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		if err := inspect(&buf, p, "yaml", false); err != nil {
			t.Fatal(err)
		}
		var v struct {
			Suite string   `yaml:"suite"`
			Arch  []string `yaml:"architectures"`
		}
		if err := yaml.Unmarshal(buf.Bytes(), &v); err != nil {
			t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
		}
		if diff := cmp.Diff([]string{"amd64", "arm64"}, v.Arch); diff != "" || v.Suite != "stable" {
			t.Errorf("suite %q, architectures mismatch (-want +got):\n%s", v.Suite, diff)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()
		if err := inspect(&bytes.Buffer{}, p, "xml", false); err == nil {
			t.Error("expected an error for an unknown format")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		err := inspect(&bytes.Buffer{}, filepath.Join(t.TempDir(), "InRelease"), "text", false)
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("inspect() = %v, want a not-exist error", err)
		}
	})
}

func TestPlanRelease(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "Release", releaseDoc(header+"Acquire-By-Hash: yes\n", treeFiles, treeOrder...))

	var buf bytes.Buffer
	sel := fetch.Selection{Architectures: []string{"arm64"}}
	if err := planRelease(&buf, p, sel, fetch.Policy{RequireSHA256: true}, "dists/bookworm", time.Now()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	byHash := "dists/bookworm/main/binary-arm64/by-hash/SHA256/" + sha256Hex(arm64Packages)
	for _, want := range []string{byHash, "dists/bookworm/main/binary-arm64/Packages", "1 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "binary-amd64") {
		t.Errorf("unselected architecture in plan:\n%s", out)
	}
	if strings.Index(out, byHash) > strings.Index(out, "dists/bookworm/main/binary-arm64/Packages\n") {
		t.Errorf("by-hash path is not tried first:\n%s", out)
	}

	err := planRelease(&bytes.Buffer{}, p, fetch.Selection{Components: []string{"non-free"}}, fetch.Policy{}, "", time.Now())
	var unknown *fetch.UnknownSelectionError
	if !errors.As(err, &unknown) {
		t.Errorf("planRelease() = %v, want UnknownSelectionError", err)
	}
}

func TestCheckRelease(t *testing.T) {
	t.Parallel()

	release := releaseDoc(header, treeFiles, treeOrder...)

	t.Run("complete", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p := writeFile(t, dir, "Release", release)
		for _, name := range treeOrder {
			writeFile(t, dir, name, treeFiles[name])
		}
		var buf bytes.Buffer
		if err := checkRelease(context.Background(), &buf, p, dir, fetch.TreeOptions{MaxConns: 2}); err != nil {
			t.Fatalf("checkRelease() = %v\n%s", err, buf.String())
		}
		if !strings.Contains(buf.String(), "2 verified") {
			t.Errorf("unexpected report:\n%s", buf.String())
		}
	})

	t.Run("damaged", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p := writeFile(t, dir, "Release", release)
		writeFile(t, dir, "main/binary-amd64/Packages", strings.ToUpper(amd64Packages))
		var buf bytes.Buffer
		err := checkRelease(context.Background(), &buf, p, dir, fetch.TreeOptions{})
		if err == nil {
			t.Fatalf("checkRelease() succeeded on a damaged tree:\n%s", buf.String())
		}
		out := buf.String()
		for _, want := range []string{"MISMATCH main/binary-amd64/Packages", "MISSING  main/binary-arm64/Packages"} {
			if !strings.Contains(out, want) {
				t.Errorf("output does not contain %q:\n%s", want, out)
			}
		}
	})
}

func TestCompareReleases(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, doc string) *apt.Release {
		t.Helper()
		rel, err := apt.ParseRelease(strings.NewReader(doc))
		if err != nil {
			t.Fatal(err)
		}
		return rel
	}

	older := parse(t, releaseDoc(header, treeFiles, treeOrder...))

	t.Run("identical", func(t *testing.T) {
		t.Parallel()
		d := compareReleases(older, older)
		if !d.empty() || len(d.Warnings) != 0 {
			t.Errorf("compareReleases() of a release with itself = %+v", d)
		}
		var buf bytes.Buffer
		if err := writeDiff(&buf, d); err != nil {
			t.Fatal(err)
		}
		if buf.String() != "releases are identical\n" {
			t.Errorf("writeDiff() = %q", buf.String())
		}
	})

	t.Run("point release", func(t *testing.T) {
		t.Parallel()
		files := map[string]string{
			"main/binary-amd64/Packages": amd64Packages + "\nPackage: world\n",
			"main/i18n/Index":            "",
		}
		newHeader := strings.NewReplacer("12.5", "12.6", "10 Feb", "09 Mar").Replace(header)
		newer := parse(t, releaseDoc(newHeader, files, "main/binary-amd64/Packages", "main/i18n/Index"))

		d := compareReleases(older, newer)
		want := []fieldChange{
			{Name: "Version", Old: "12.5", New: "12.6"},
			{Name: "Date", Old: "Sat, 10 Feb 2024 10:00:00 UTC", New: "Sat, 09 Mar 2024 10:00:00 UTC"},
		}
		if diff := cmp.Diff(want, d.Fields); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
		paths := func(entries []apt.FileEntry) []string {
			var out []string
			for _, fe := range entries {
				out = append(out, fe.Path())
			}
			return out
		}
		if diff := cmp.Diff([]string{"main/i18n/Index"}, paths(d.Added)); diff != "" {
			t.Errorf("added mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"main/binary-arm64/Packages"}, paths(d.Removed)); diff != "" {
			t.Errorf("removed mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"main/binary-amd64/Packages"}, paths(d.Changed)); diff != "" {
			t.Errorf("changed mismatch (-want +got):\n%s", diff)
		}
		if len(d.Warnings) != 0 {
			t.Errorf("unexpected warnings: %v", d.Warnings)
		}
	})

	t.Run("downgrade", func(t *testing.T) {
		t.Parallel()
		newHeader := strings.NewReplacer("12.5", "12.4", "Sat, 10 Feb", "Thu, 01 Feb").Replace(header)
		newer := parse(t, releaseDoc(newHeader, treeFiles, treeOrder...))

		d := compareReleases(older, newer)
		if len(d.Warnings) != 2 {
			t.Fatalf("d.Warnings = %v, want Version and Date warnings", d.Warnings)
		}
		var buf bytes.Buffer
		if err := writeDiff(&buf, d); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), "WARNING Version goes backwards: 12.5 -> 12.4") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
	})
}

func TestDiffReleases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old/Release", releaseDoc(header, treeFiles, treeOrder...))
	newPath := writeFile(t, dir, "new/Release", releaseDoc(header, treeFiles, "main/binary-amd64/Packages"))

	var buf bytes.Buffer
	if err := diffReleases(&buf, oldPath, newPath); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "- main/binary-arm64/Packages") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	if err := diffReleases(&buf, oldPath, filepath.Join(dir, "absent")); err == nil {
		t.Error("expected an error for a missing release")
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()

	err := errors.Wrap(errors.New("unexpected EOF"), "failed to read InRelease")

	if got := formatError(err, false); !strings.Contains(got, "unexpected EOF") {
		t.Errorf("formatError(err, false) = %q", got)
	}
	if got := formatError(err, true); !strings.Contains(got, "main_test.go") {
		t.Errorf("formatError(err, true) has no stack trace: %q", got)
	}
}

func TestVerifyReleaseNeedsKeyring(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "Release", releaseDoc(header, treeFiles, treeOrder...))
	if err := verifyRelease(&bytes.Buffer{}, p, "", nil); err == nil {
		t.Error("verifyRelease() without a keyring succeeded")
	}
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	printVersion(cmd)
	if !strings.HasPrefix(buf.String(), "releasectl "+version+"\n") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := loadConfig(writeFile(t, dir, "good.toml", "max_conns = 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxConns != 4 {
		t.Errorf("c.MaxConns = %d, want 4", c.MaxConns)
	}

	for name, content := range map[string]string{
		"conns.toml":   "max_conns = 0\n",
		"keyring.toml": "keyrings = [\"\"]\n",
		"arch.toml":    "[selection]\narchitectures = [\"amd 64\"]\n",
	} {
		if _, err := loadConfig(writeFile(t, dir, name, content)); err == nil {
			t.Errorf("loadConfig(%s) accepted an invalid configuration", name)
		}
	}
}
