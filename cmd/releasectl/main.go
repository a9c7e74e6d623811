// Package main implements the releasectl command-line tool for inspecting
// and verifying APT Release and InRelease files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/aptrelease/internal/config"
	"github.com/mirrorctl/aptrelease/internal/fetch"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "releasectl",
	Short: "Inspect and verify APT Release files",
	Long: `releasectl parses APT Release and InRelease files, verifies their
signatures, downloads the index files they list, and checks local copies
of those files.

Find more information at: https://github.com/mirrorctl/aptrelease`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <release-file>",
	Short: "Show the contents of a Release or InRelease file",
	Long: `Parses a Release or InRelease file and prints its fields.

Examples:
  releasectl inspect dists/bookworm/InRelease
  releasectl inspect dists/bookworm/Release --files
  releasectl inspect dists/bookworm/InRelease -o json`,
	Args: cobra.ExactArgs(1),
	Run:  runInspect,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <release-file>",
	Short: "Verify the signature of a Release or InRelease file",
	Long: `Verifies a clear-signed InRelease file, or a Release file against its
detached signature, using the configured keyrings. When the release lists
Signed-By fingerprints, the signing key must be one of them.

Examples:
  releasectl verify dists/bookworm/InRelease
  releasectl verify dists/bookworm/Release --signature dists/bookworm/Release.gpg
  releasectl verify dists/bookworm/InRelease --keyring /usr/share/keyrings/debian-archive-keyring.gpg`,
	Args: cobra.ExactArgs(1),
	Run:  runVerify,
}

var planCmd = &cobra.Command{
	Use:   "plan <release-file>",
	Short: "List the index files to download for a selection",
	Long: `Lists the index files a mirror of the selected components and
architectures needs, choosing the best compressed variant of each and the
by-hash locations when the repository supports them.

Examples:
  releasectl plan dists/bookworm/InRelease
  releasectl plan dists/bookworm/InRelease --component main --arch amd64 --release-dir dists/bookworm`,
	Args: cobra.ExactArgs(1),
	Run:  runPlan,
}

var checkCmd = &cobra.Command{
	Use:   "check <release-file> <dir>",
	Short: "Check a local copy of the files listed in a release",
	Long: `Checks the size and every listed digest of the files under <dir>, the
directory that holds the Release file. An uncompressed index that is absent
is checked through one of its compressed variants.

Examples:
  releasectl check /srv/mirror/dists/bookworm/InRelease /srv/mirror/dists/bookworm
  releasectl check InRelease . --component main --progress`,
	Args: cobra.ExactArgs(2),
	Run:  runCheck,
}

var diffCmd = &cobra.Command{
	Use:   "diff <old-release> <new-release>",
	Short: "Compare two releases of the same suite",
	Long: `Compares two Release files and reports changed fields and added, removed
or changed files. A new release with an older Version or Date is flagged.

Examples:
  releasectl diff /srv/mirror/dists/bookworm/InRelease /tmp/InRelease`,
	Args: cobra.ExactArgs(2),
	Run:  runDiff,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <repository-url> <release-dir> <dest>",
	Short: "Download a release and its selected index files",
	Long: `Downloads the InRelease (or Release and Release.gpg) file of a
repository, verifies its signature, and downloads the selected index files
it lists into <dest>, checking each against the release. Files already present
with the right content are kept.

Examples:
  releasectl fetch http://deb.debian.org/debian dists/bookworm /srv/mirror
  releasectl fetch https://example.com/apt dists/stable /tmp/apt --component main --arch amd64`,
	Args: cobra.ExactArgs(3),
	Run:  runFetch,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	inspectCmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
	inspectCmd.Flags().Bool("files", false, "list every file of the manifest")

	verifyCmd.Flags().String("signature", "", "detached signature file (Release.gpg)")
	verifyCmd.Flags().StringSlice("keyring", nil, "keyring file, overrides the configured keyrings")

	for _, cmd := range []*cobra.Command{planCmd, checkCmd, fetchCmd} {
		cmd.Flags().StringSlice("component", nil, "select a component (repeatable)")
		cmd.Flags().StringSlice("arch", nil, "select an architecture (repeatable)")
		cmd.Flags().Bool("sources", false, "select source indices")
	}
	planCmd.Flags().String("release-dir", "", "prefix candidate paths with the release directory, e.g. dists/bookworm")
	for _, cmd := range []*cobra.Command{checkCmd, fetchCmd} {
		cmd.Flags().Bool("progress", false, "show a progress bar")
		cmd.Flags().Int("max-conns", 0, "number of concurrent file operations")
	}
	fetchCmd.Flags().StringSlice("keyring", nil, "keyring file, overrides the configured keyrings")
	fetchCmd.Flags().Bool("no-verify", false, "do not verify the release signature")
	fetchCmd.Flags().Int("retries", 0, "attempts per URL on network or server errors")
}

func printVersion(cmd *cobra.Command) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "releasectl %s\n", version)
	fmt.Fprintf(w, "commit: %s\n", commit)
	fmt.Fprintf(w, "built: %s\n", buildDate)
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err) // Full details with stack trace
	}

	// For human-friendly output, try to extract the root message
	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	// Fallback to simple error message
	return err.Error()
}

// fatal logs err and exits.
func fatal(cmd *cobra.Command, msg string, err error) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	slog.Error(msg, "error", formatError(err, verboseErrors))
	if !verboseErrors {
		slog.Info("run with --verbose-errors for detailed stack traces")
	}
	os.Exit(1)
}

// loadConfig reads and validates the configuration at p.
func loadConfig(p string) (*config.Config, error) {
	c, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	if err := c.Check(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

// setup loads the configuration and applies the logging settings and
// their command-line overrides.
func setup(cmd *cobra.Command) *config.Config {
	c, err := loadConfig(configPath)
	if err != nil {
		fatal(cmd, "failed to load configuration", err)
	}

	// Apply log configuration immediately after config loading
	if err := c.Log.Apply(); err != nil {
		fatal(cmd, "failed to apply log config", err)
	}

	// Override log level if specified on command line
	if logLevel != "" {
		c.Log.Level = logLevel
		if err := c.Log.Apply(); err != nil {
			fatal(cmd, "failed to apply command-line log level", err)
		}
		slog.Debug("log level successfully overridden from command line", "level", logLevel)
	}

	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		c.Log.Level = "error"
		if err := c.Log.Apply(); err != nil {
			fatal(cmd, "failed to apply quiet log level", err)
		}
	}
	return c
}

// selectionFlags overrides the configured selection with the
// --component, --arch and --sources flags.
func selectionFlags(cmd *cobra.Command, sel fetch.Selection) fetch.Selection {
	if components, _ := cmd.Flags().GetStringSlice("component"); len(components) > 0 {
		sel.Components = components
	}
	if archs, _ := cmd.Flags().GetStringSlice("arch"); len(archs) > 0 {
		sel.Architectures = archs
	}
	if cmd.Flags().Changed("sources") {
		sel.Sources, _ = cmd.Flags().GetBool("sources")
	}
	return sel
}

func runInspect(cmd *cobra.Command, args []string) {
	setup(cmd)
	format, _ := cmd.Flags().GetString("output")
	files, _ := cmd.Flags().GetBool("files")
	if err := inspect(cmd.OutOrStdout(), args[0], format, files); err != nil {
		fatal(cmd, "inspect failed", err)
	}
}

func runVerify(cmd *cobra.Command, args []string) {
	c := setup(cmd)
	keyrings := c.Keyrings
	if override, _ := cmd.Flags().GetStringSlice("keyring"); len(override) > 0 {
		keyrings = override
	}
	sigPath, _ := cmd.Flags().GetString("signature")
	if err := verifyRelease(cmd.OutOrStdout(), args[0], sigPath, keyrings); err != nil {
		fatal(cmd, "verification failed", err)
	}
}

func runPlan(cmd *cobra.Command, args []string) {
	c := setup(cmd)
	releaseDir, _ := cmd.Flags().GetString("release-dir")
	sel := selectionFlags(cmd, c.Selection)
	if err := planRelease(cmd.OutOrStdout(), args[0], sel, c.Policy, releaseDir, time.Now()); err != nil {
		fatal(cmd, "plan failed", err)
	}
}

func runCheck(cmd *cobra.Command, args []string) {
	c := setup(cmd)
	sel := selectionFlags(cmd, c.Selection)
	opts := fetch.TreeOptions{MaxConns: c.MaxConns, Selection: &sel}
	if n, _ := cmd.Flags().GetInt("max-conns"); n > 0 {
		opts.MaxConns = n
	}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		opts.Progress = cmd.ErrOrStderr()
	}
	if err := checkRelease(context.Background(), cmd.OutOrStdout(), args[0], args[1], opts); err != nil {
		fatal(cmd, "check failed", err)
	}
}

func runDiff(cmd *cobra.Command, args []string) {
	setup(cmd)
	if err := diffReleases(cmd.OutOrStdout(), args[0], args[1]); err != nil {
		fatal(cmd, "diff failed", err)
	}
}

func runFetch(cmd *cobra.Command, args []string) {
	c := setup(cmd)
	opts := fetchOptions{
		Keyrings:  c.Keyrings,
		Selection: selectionFlags(cmd, c.Selection),
		Policy:    c.Policy,
		Download:  fetch.DownloaderOptions{MaxConns: c.MaxConns},
		Now:       time.Now(),
	}
	if override, _ := cmd.Flags().GetStringSlice("keyring"); len(override) > 0 {
		opts.Keyrings = override
	}
	opts.NoVerify, _ = cmd.Flags().GetBool("no-verify")
	if n, _ := cmd.Flags().GetInt("max-conns"); n > 0 {
		opts.Download.MaxConns = n
	}
	opts.Download.Retries, _ = cmd.Flags().GetInt("retries")
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		opts.Download.Progress = cmd.ErrOrStderr()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fetchRelease(ctx, cmd.OutOrStdout(), args[0], args[1], args[2], opts); err != nil {
		stop()
		fatal(cmd, "fetch failed", err)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	c, err := config.Load(configPath)
	if err != nil {
		slog.Error("configuration validation failed", "error", formatError(err, verboseErrors), "path", configPath)
		os.Exit(1)
	}

	var validationErrors []error

	if err := c.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}

	if err := c.Check(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "global config"))
	}

	for _, k := range c.Keyrings {
		if _, err := os.Stat(k); err != nil {
			validationErrors = append(validationErrors, errors.Wrap(err, "keyring"))
		}
	}

	if len(validationErrors) > 0 {
		slog.Error("the toml configuration file is not valid")
		for _, err := range validationErrors {
			slog.Error(err.Error())
		}
		os.Exit(1)
	}

	slog.Info("the toml configuration file passes validation checks")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
