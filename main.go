// folio: compile a blog archive into a date-ordered epub.
//
//	folio [flags] <index-url>
//
// Every article linked from the index page is fetched, its title and
// publication date extracted, and the articles bound newest first into
// <output-dir>/<title>.epub, with a plain-text backup of each article and a
// manifest.yaml alongside.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folio [flags] <index-url>",
		Short: "Compile a blog archive into a date-ordered epub",
		Long: `Fetch every article linked from a blog index page, order them newest
first and bind them into an epub, with plain-text backups and a manifest.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			cfg.IndexURL = args[0]
			return run(cmd.Context(), cfg)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

// run executes one compilation with cfg, returning any error.
func run(ctx context.Context, cfg config) error {
	log, err := newLogger(cfg.LogLevel, cfg.Silent)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if !cfg.Silent {
		progressOut = os.Stdout
	}

	res, err := newPipeline(cfg, log).run(ctx)
	if err != nil {
		return err
	}

	log.Info("done",
		zap.Int("chapters", res.Chapters),
		zap.Int("backups", len(res.Backups)),
		zap.String("path", res.Epub))
	pprintf("✓ %s (%d articles)\n", res.Epub, res.Chapters)
	if res.Mobi != "" {
		pprintf("✓ %s\n", res.Mobi)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
