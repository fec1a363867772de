// Package main provides the entry point for the swcache CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	environ    config.Env

	rootCmd = &cobra.Command{
		Use:   "swcache",
		Short: "Offline-first cache worker for static web apps",
		Long: paragraph(
			fmt.Sprintf("\nPrecache an app shell and serve it %s, with everything else cached on the way through.", keyword("offline-first")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfigFlag(cmd)
		},
	}
)

// readConfigFlag switches to the file named by --config.
func readConfigFlag(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("config") {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file %s: %w", configFile, err)
	}
	log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
	return nil
}

// configPath is the configuration file in effect, if any.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return configFile
}

// loadConfig returns the validated configuration from flags, env and file.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// openStorage opens the configured cache storage.
func openStorage(cfg *config.Config) (*cache.Storage, error) {
	storage, err := cache.NewStorage(cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("unable to open cache storage: %w", err)
	}
	return storage, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	var err error
	if environ, err = config.LoadEnv(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.String("origin", cache.DefaultOrigin, "public origin cache keys resolve against")
	flags.StringP("upstream", "u", "", "upstream server to fetch from")
	flags.StringP("root", "r", "", "directory to serve files from instead of an upstream")
	flags.StringP("backend", "b", cache.BackendDisk, "cache backend (disk, sqlite, memory)")
	flags.String("cache-dir", "", "cache storage directory")

	// Config bindings
	_ = viper.BindPFlag("origin", flags.Lookup("origin"))
	_ = viper.BindPFlag("upstream", flags.Lookup("upstream"))
	_ = viper.BindPFlag("root", flags.Lookup("root"))
	_ = viper.BindPFlag("cache.backend", flags.Lookup("backend"))
	_ = viper.BindPFlag("cache.dir", flags.Lookup("cache-dir"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(serveCmd, installCmd, activateCmd, cachesCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "swcache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "swcache")}, dirs...)
	}

	if c := environ.ConfigHome; c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("swcache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("swcache")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "swcache.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
