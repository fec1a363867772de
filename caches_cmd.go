package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/swcache/internal/cache"
	"github.com/dgnsrekt/swcache/internal/config"
)

var (
	cachesCmd = &cobra.Command{
		Use:   "caches",
		Short: "Inspect and manage cache storage",
		Args:  cobra.NoArgs,
	}

	cachesLsCmd = &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List caches in creation order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(func(cfg *config.Config, storage *cache.Storage) error {
				return listCaches(cmd.OutOrStdout(), cfg, storage)
			})
		},
	}

	cachesKeysCmd = &cobra.Command{
		Use:   "keys NAME",
		Short: "List the URLs stored in a cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(_ *config.Config, storage *cache.Storage) error {
				c, err := lookupCache(storage, args[0])
				if err != nil {
					return err
				}
				keys, err := c.Keys()
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}

	cachesDeleteCmd = &cobra.Command{
		Use:     "delete NAME...",
		Aliases: []string{"rm"},
		Short:   "Delete caches by name",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(_ *config.Config, storage *cache.Storage) error {
				for _, name := range args {
					if _, err := lookupCache(storage, name); err != nil {
						return err
					}
					if _, err := storage.Delete(name); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", warning("deleted"), name)
				}
				return nil
			})
		},
	}

	cachesMatchCmd = &cobra.Command{
		Use:   "match URL",
		Short: "Show which cache answers a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(_ *config.Config, storage *cache.Storage) error {
				return matchURL(cmd.OutOrStdout(), storage, args[0])
			})
		},
	}
)

func init() {
	cachesCmd.AddCommand(cachesLsCmd, cachesKeysCmd, cachesDeleteCmd, cachesMatchCmd)
}

func withStorage(fn func(*config.Config, *cache.Storage) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck
	return fn(cfg, storage)
}

// lookupCache returns the named cache, suggesting close names when it
// does not exist.
func lookupCache(storage *cache.Storage, name string) (*cache.NamedCache, error) {
	c, err := storage.Lookup(name)
	if !errors.Is(err, cache.ErrCacheMiss) {
		return c, err
	}

	names, err := storage.Keys()
	if err != nil {
		return nil, err
	}
	if suggestions := suggest(name, names); len(suggestions) > 0 {
		return nil, fmt.Errorf("no cache named %q, did you mean %s?", name, strings.Join(suggestions, " or "))
	}
	return nil, fmt.Errorf("no cache named %q", name)
}

// suggest returns up to three names that fuzzily match name.
func suggest(name string, names []string) []string {
	var out []string
	for _, m := range fuzzy.Find(name, names) {
		out = append(out, m.Str)
		if len(out) == 3 {
			break
		}
	}
	return out
}

const nameWidth = 24

func listCaches(out io.Writer, cfg *config.Config, storage *cache.Storage) error {
	names, err := storage.Keys()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, faint("No caches."))
		return nil
	}

	fmt.Fprintf(out, "%s\n", header(fmt.Sprintf("%s %8s %10s", runewidth.FillRight("NAME", nameWidth), "ENTRIES", "SIZE")))
	for _, name := range names {
		c, err := storage.Lookup(name)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return err
		}
		keys, err := c.Keys()
		if err != nil {
			return err
		}

		row := fmt.Sprintf("%s %8d %10s", runewidth.FillRight(runewidth.Truncate(name, nameWidth, "…"), nameWidth), len(keys), humanize.Bytes(uint64(c.Size()))) //nolint:gosec
		switch name {
		case cfg.StaticCache:
			row = keyword(row) + faint("  static")
		case cfg.DynamicCache:
			row = keyword(row) + faint("  dynamic")
		default:
			row += warning("  stale")
		}
		fmt.Fprintln(out, row)
	}
	return nil
}

func matchURL(out io.Writer, storage *cache.Storage, raw string) error {
	resp, name, err := storage.Match(raw)
	if errors.Is(err, cache.ErrCacheMiss) {
		fmt.Fprintf(out, "%s %s\n", faint("miss"), storage.Resolve(raw))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", header("hit"), resp.URL)
	fmt.Fprintf(out, "  cache   %s\n", keyword(name))
	fmt.Fprintf(out, "  status  %d\n", resp.Status)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		fmt.Fprintf(out, "  type    %s\n", ct)
	}
	fmt.Fprintf(out, "  size    %s\n", humanize.Bytes(uint64(resp.Size()))) //nolint:gosec
	if !resp.StoredAt.IsZero() {
		fmt.Fprintf(out, "  stored  %s (%s)\n", humanize.Time(resp.StoredAt), resp.StoredAt.Format(time.RFC3339))
	}
	return nil
}
