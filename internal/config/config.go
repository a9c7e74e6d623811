// Package config reads the releasectl TOML configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/fetch"
)

// DefaultPath is where the configuration is read from when no path is given.
const DefaultPath = "/etc/mirrorctl/release.toml"

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Handler builds the slog handler described by logConfig, writing to w.
func (logConfig *LogConfig) Handler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, errors.New("invalid log level: " + logConfig.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logConfig.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "plain", "", "text":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, errors.New("invalid log format: " + logConfig.Format)
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	handler, err := logConfig.Handler(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use Load, or https://github.com/BurntSushi/toml as follows:
//
//	config := config.NewConfig()
//	md, err := toml.DecodeFile("/path/to/release.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	// Keyrings are the public key files trusted for signature checks.
	Keyrings []string `toml:"keyrings"`
	// MaxConns limits how many files are checked at once.
	MaxConns  int             `toml:"max_conns"`
	Log       LogConfig       `toml:"log"`
	Policy    fetch.Policy    `toml:"policy"`
	Selection fetch.Selection `toml:"selection"`
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxConns: fetch.DefaultMaxConns,
	}
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.MaxConns < 1 {
		return errors.Newf("max_conns must be at least 1, got %d", c.MaxConns)
	}
	for _, k := range c.Keyrings {
		if k == "" {
			return errors.New("keyrings contains an empty path")
		}
	}
	for _, name := range c.Selection.Components {
		if name == "" || strings.ContainsAny(name, " \t") {
			return errors.Newf("invalid component name %q", name)
		}
	}
	for _, name := range c.Selection.Architectures {
		if name == "" || strings.ContainsAny(name, " \t/") {
			return errors.Newf("invalid architecture name %q", name)
		}
	}
	return nil
}

// UndecodedError reports configuration keys that match no setting.
type UndecodedError struct {
	Keys []toml.Key
}

func (e *UndecodedError) Error() string {
	return formatUndecodedError(e.Keys)
}

// Load reads the configuration at p. A missing file yields the
// defaults when p is the default path, and an error otherwise.
func Load(p string) (*Config, error) {
	c := NewConfig()
	meta, err := toml.DecodeFile(p, c)
	if err != nil {
		if os.IsNotExist(err) && p == DefaultPath {
			slog.Debug("no configuration file, using defaults", "path", p)
			return NewConfig(), nil
		}
		return nil, errors.Wrapf(err, "failed to decode config file %s", p)
	}

	// Undecoded keys usually mean a misspelled section
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.WithStack(&UndecodedError{Keys: undecoded})
	}
	return c, nil
}

// sectionTypos maps frequent misspellings to the intended keys.
var sectionTypos = map[string]string{
	"keyring":       "keyrings",
	"selections":    "selection",
	"policies":      "policy",
	"logging":       "log",
	"maxconns":      "max_conns",
	"max-conns":     "max_conns",
	"component":     "selection.components",
	"architectures": "selection.architectures",
	"components":    "selection.components",
}

// analyzeUndecoded examines undecoded TOML keys and provides helpful suggestions
func analyzeUndecoded(undecoded []toml.Key) (suggestions []string, unknown []string) {
	seen := make(map[string]bool)
	for _, key := range undecoded {
		root := key[0]
		if fix, ok := sectionTypos[root]; ok {
			if !seen[root] {
				seen[root] = true
				suggestions = append(suggestions, fmt.Sprintf("Key '%s' should be '%s'", root, fix))
			}
			continue
		}
		// Keep track of keys we couldn't provide suggestions for
		unknown = append(unknown, key.String())
	}
	return suggestions, unknown
}

// formatUndecodedError builds a user-friendly error message for undecoded TOML keys
func formatUndecodedError(undecoded []toml.Key) string {
	suggestions, unknown := analyzeUndecoded(undecoded)

	var errorMsg strings.Builder
	if len(suggestions) > 0 {
		errorMsg.WriteString("configuration contains keys that don't match expected structure:\n")
		for _, suggestion := range suggestions {
			errorMsg.WriteString("  • " + suggestion + "\n")
		}
		errorMsg.WriteString("\nNote: Configuration key names are case-sensitive and must match exactly.")
	}

	if len(unknown) > 0 {
		if errorMsg.Len() > 0 {
			errorMsg.WriteString("\n\nAdditionally, found unknown keys: ")
		} else {
			errorMsg.WriteString("configuration contains unknown keys: ")
		}
		errorMsg.WriteString(fmt.Sprintf("%v", unknown))
	}

	return errorMsg.String()
}
