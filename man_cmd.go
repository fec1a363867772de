package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generates manpages",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		page, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return fmt.Errorf("unable to build man page: %w", err)
		}

		page = page.WithSection("Environment", "SWCACHE_CONFIG_HOME, SWCACHE_LOG_LEVEL, SWCACHE_LOG_FILE, SWCACHE_OTEL_ENDPOINT, SWCACHE_OTEL_ENABLED.")
		fmt.Println(page.Build(roff.NewDocument()))
		return nil
	},
}
