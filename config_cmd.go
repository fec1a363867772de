package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/editor"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# public origin of the app; relative cache keys resolve against it
origin: "http://localhost"
# where responses come from: an upstream server or a local directory
# upstream: "http://127.0.0.1:3000"
# root: "~/src/app/public"
# address "swcache serve" listens on
listen: "localhost:8080"

# bump a name to ship a new version; activation deletes every other cache
static_cache: "static-v23"
dynamic_cache: "dynamic-v3"

# app shell precached on install and served cache-first
static_files:
  - /index.html
  - /src/css/model.css
  - /src/js/app.js
  - /src/css/app.css
  - /src/js/model.js

# page served for HTML requests that fail offline (must be in static_files)
offline_page: ""
# serve absolute-form requests for other hosts ("GET http://other.host/").
# This makes the listener a forward proxy; keep it off unless it is private.
allow_cross_origin: false

install:
  # parallel precache fetches
  concurrency: 4

cache:
  # disk, sqlite or memory
  backend: "disk"
  # storage directory (default: user cache dir)
  # dir: "~/.cache/swcache"
  # in-memory read accelerator per cache, in MB
  memory_size: 64
  # zstd level for stored bodies (0 disables compression)
  compression_level: 3
  flush_interval: "1m"
  # warn once the dynamic cache grows past this many MB (it is never trimmed)
  dynamic_warn_size: 256

network:
  # upstream rate limit (0 = unlimited)
  requests_per_second: 0
  burst: 1
  # per-request timeout (0 = none)
  timeout: "0s"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the swcache config file",
	Long:    paragraph(fmt.Sprintf("\n%s the swcache config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("swcache config\nswcache config --config path/to/swcache.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("swcache", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

// ensureConfigFile writes the commented default config when no file
// exists at the configured path yet.
func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}
	switch ext := filepath.Ext(configFile); ext {
	case ".yaml", ".yml":
	default:
		return fmt.Errorf("%q is not a supported configuration type: use .yaml or .yml", ext)
	}

	_, err := os.Stat(configFile)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("unable to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	if err := atomic.WriteFile(configFile, strings.NewReader(defaultConfig)); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}
