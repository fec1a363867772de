package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/swcache/internal/network"
	"github.com/dgnsrekt/swcache/internal/worker"
)

var (
	installCmd = &cobra.Command{
		Use:     "install",
		Short:   "Precache the app shell into the static cache",
		Long:    paragraph(fmt.Sprintf("\n%s every static file into the static cache. Files that fail are reported and skipped.", keyword("Fetch"))),
		Example: paragraph("swcache install --upstream http://127.0.0.1:3000"),
		Args:    cobra.NoArgs,
		RunE:    runInstall,
	}

	activateCmd = &cobra.Command{
		Use:     "activate",
		Short:   "Delete caches left over from earlier versions",
		Long:    paragraph(fmt.Sprintf("\n%s every cache that is neither the current static nor the current dynamic cache. Requires a previous install.", keyword("Delete"))),
		Example: paragraph("swcache install --root ./public && swcache activate"),
		Args:    cobra.NoArgs,
		RunE:    runActivate,
	}
)

func runInstall(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fetcher, err := cfg.Fetcher()
	if err != nil {
		return err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck

	w, err := worker.New(cfg.Worker(), storage, fetcher)
	if err != nil {
		return err
	}
	report, err := w.Install(cmd.Context())
	if err != nil {
		return err
	}

	printInstallReport(cmd.OutOrStdout(), report)
	return nil
}

func runActivate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer storage.Close() //nolint:errcheck

	// Activation never touches the network
	fetcher, noSource := cfg.Fetcher()
	if noSource != nil {
		fetcher = network.FetcherFunc(func(context.Context, *http.Request) (*http.Response, error) {
			return nil, noSource
		})
	}

	w, err := worker.Resume(cfg.Worker(), storage, fetcher)
	if err != nil {
		return err
	}
	report, err := w.Activate(cmd.Context())
	if err != nil {
		return err
	}

	printActivateReport(cmd.OutOrStdout(), report)
	return nil
}

const errWidth = 72

func printInstallReport(out io.Writer, report *worker.InstallReport) {
	fmt.Fprintf(out, "%s %s\n", header("Installed"), keyword(report.Cache))
	for _, p := range report.Cached {
		fmt.Fprintf(out, "  %s %s\n", keyword("✓"), p)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(out, "  %s %s %s\n", warning("✗"), f.Path, faint(truncate.StringWithTail(f.Err.Error(), errWidth, "…")))
	}
	fmt.Fprintf(out, "%d cached, %d failed\n", len(report.Cached), len(report.Failed))
}

func printActivateReport(out io.Writer, report *worker.ActivateReport) {
	fmt.Fprintln(out, header("Activated"))
	for _, name := range report.Deleted {
		fmt.Fprintf(out, "  %s %s\n", warning("deleted"), name)
	}
	for _, name := range report.Kept {
		fmt.Fprintf(out, "  %s %s\n", keyword("kept"), name)
	}
}
