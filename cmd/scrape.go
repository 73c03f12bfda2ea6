package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/app"
	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// newScrapeCmd creates the 'scrape' subcommand, which scrapes one site in the
// foreground and prints the result as JSON.
func newScrapeCmd() *cobra.Command {
	var (
		format  string
		output  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrapes a single site and prints the result",
		Long: `Runs one whole-site scrape without the job queue. Progress is logged to
stderr and the result is written as indented JSON to stdout or --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.cfg
			if format != "" {
				cfg.Scraper.Format = format
			}

			scraper, err := app.NewScraper(cfg, rt.logger)
			if err != nil {
				return err
			}
			defer scraper.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			progress := func(_ context.Context, percent int) {
				rt.logger.Info("scrape progress", zap.Int("percent", percent))
			}
			result, err := scraper.Scrape(ctx, args[0], progress)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", args[0], err)
			}

			if output == "" {
				return writeResult(cmd.OutOrStdout(), result)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			if err := writeResult(f, result); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "page content format: text or markdown (overrides scraper.format)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the scrape after this long")
	return cmd
}

func writeResult(w io.Writer, result crawler.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
