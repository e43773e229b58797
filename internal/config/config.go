// Package config loads leaf's TOML configuration file, applying a
// Root-relative path policy: every directory setting defaults to a path
// computed under Root when left blank.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/a-h/leaf/internal/errs"
)

// Config is leaf's full runtime configuration.
type Config struct {
	Root            string `toml:"root"`
	LogLevel        string `toml:"loglevel"`
	DownloadWorkers int    `toml:"download_workers"`
	RenderBar       bool   `toml:"render_bar"`
	MirrorsDir      string `toml:"mirrors_dir"`
	DownloadDir     string `toml:"download_dir"`
	PackagesDir     string `toml:"packages_dir"`
	DBPath          string `toml:"db_path"`
	MetricsAddr     string `toml:"metrics_listen_addr"`

	Mirrors []MirrorSpec `toml:"mirror"`
}

// MirrorSpec is one [[mirror]] table entry in leaf.conf.
type MirrorSpec struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// Paths leaf.conf falls back to, in order, when no explicit path is given.
var DefaultPaths = []string{
	"/etc/leaf/leaf.conf",
	"/lib/leaf/leaf.conf",
}

// Default returns a Config with every field set to its baseline value,
// before any path-policy defaulting is applied.
func Default() Config {
	return Config{
		Root:            "/",
		LogLevel:        "info",
		DownloadWorkers: 4,
		RenderBar:       true,
	}
}

// Load reads and decodes the TOML file at path (or, if path is empty, the
// first of DefaultPaths that exists), applying Root-relative defaults to any
// directory field left blank.
func Load(path string) (Config, error) {
	cfg := Default()

	resolvedPath := path
	if resolvedPath == "" {
		for _, candidate := range DefaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				resolvedPath = candidate
				break
			}
		}
	}

	if resolvedPath != "" {
		if _, err := toml.DecodeFile(resolvedPath, &cfg); err != nil {
			return Config{}, errs.Wrap(errs.KindTOML, err, "decode config file "+resolvedPath)
		}
	}

	applyPathDefaults(&cfg)
	return cfg, nil
}

// applyPathDefaults fills blank directory settings with a path computed
// under cfg.Root: everything lives under the configured root unless
// overridden.
func applyPathDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	base := filepath.Join(cfg.Root, "var", "lib", "leaf")

	if cfg.MirrorsDir == "" {
		cfg.MirrorsDir = filepath.Join(base, "mirrors")
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(base, "downloads")
	}
	if cfg.PackagesDir == "" {
		cfg.PackagesDir = filepath.Join(base, "packages")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(base, "leaf.db")
	}
	if cfg.DownloadWorkers < 1 {
		cfg.DownloadWorkers = 4
	}
}
