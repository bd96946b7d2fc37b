// Package config loads Anima's settings from <data dir>/config.yaml.
//
// A missing file yields the defaults. An existing file must be a regular
// file owned by the current user with mode 0600; anything else is refused
// rather than silently ignored.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anima-vault/anima/internal/logging"
	"github.com/anima-vault/anima/pkg/crypto"
	"github.com/anima-vault/anima/pkg/share"
)

// FileName is the configuration file inside the data directory.
const FileName = "config.yaml"

// Environment overrides.
const (
	EnvHome     = "ANIMA_HOME"
	EnvPassword = "ANIMA_PASSWORD"
	EnvLogLevel = "ANIMA_LOG_LEVEL"
)

const defaultDirName = ".anima"

var (
	ErrInsecure = errors.New("config: file has insecure permissions")
	ErrSymlink  = errors.New("config: file is a symlink")
	ErrNotOwned = errors.New("config: file not owned by current user")
	ErrInvalid  = errors.New("config: invalid configuration")
)

// Config holds user-tunable settings.
type Config struct {
	LoginDelay   time.Duration `yaml:"login_delay"`
	ShareBaseURL string        `yaml:"share_base_url"`
	ShareDays    int           `yaml:"share_days"`
	KDF          crypto.Params `yaml:"kdf"`
	LogLevel     string        `yaml:"log_level"`
	Theme        string        `yaml:"theme"`

	// Dir is the data directory the file was loaded from.
	Dir string `yaml:"-"`
}

// Default returns the built-in settings for dir.
func Default(dir string) *Config {
	return &Config{
		LoginDelay:   500 * time.Millisecond,
		ShareBaseURL: share.DefaultBaseURL,
		ShareDays:    7,
		KDF:          crypto.DefaultParams,
		LogLevel:     "info",
		Theme:        "light",
		Dir:          dir,
	}
}

// DefaultDir returns $ANIMA_HOME, or ~/.anima when it is unset.
func DefaultDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	return filepath.Join(home, defaultDirName), nil
}

// Load reads the configuration in dir over the defaults and applies
// environment overrides.
func Load(dir string) (*Config, error) {
	cfg := Default(dir)

	f, err := openConfigFile(filepath.Join(dir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.applyEnv()
		return cfg, cfg.Validate()
	case err != nil:
		return nil, err
	}
	defer f.Close()

	// fstat the open descriptor, not the path
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat %s: %w", FileName, err)
	}
	if err := checkFile(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", FileName, err)
	}
	if len(bytes.TrimSpace(content)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", FileName, err)
		}
	}
	cfg.Dir = dir

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes c to dir with mode 0600.
func Save(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("config: failed to create directory: %w", err)
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode: %w", err)
	}
	path := filepath.Join(c.Dir, FileName)
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("config: failed to write %s: %w", FileName, err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0600)
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if c.LoginDelay < 0 {
		return fmt.Errorf("%w: login_delay must not be negative", ErrInvalid)
	}
	if c.ShareDays < 0 || c.ShareDays > share.MaxValidityDays {
		return fmt.Errorf("%w: share_days must be 0..%d", ErrInvalid, share.MaxValidityDays)
	}
	if strings.TrimSpace(c.ShareBaseURL) == "" {
		return fmt.Errorf("%w: share_base_url is required", ErrInvalid)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: kdf: %w", ErrInvalid, err)
	}
	switch c.Theme {
	case "light", "dark":
	default:
		return fmt.Errorf("%w: theme must be light or dark", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		c.LogLevel = lvl
	}
}

// Password returns $ANIMA_PASSWORD and clears it from the environment so
// child processes do not inherit it.
func Password() (string, bool) {
	pw, ok := os.LookupEnv(EnvPassword)
	if ok {
		os.Unsetenv(EnvPassword)
	}
	return pw, ok && pw != ""
}
