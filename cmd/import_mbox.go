package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/filter"
	"github.com/dhcgn/apptrack/mbox"
	"github.com/dhcgn/apptrack/progress"
	"github.com/dhcgn/apptrack/stats"
)

var (
	mboxIncludeHeader []string
	mboxIncludeBody   []string
	mboxExcludeHeader []string
	mboxExcludeBody   []string
	mboxNoSync        bool
)

var importMboxCmd = &cobra.Command{
	Use:   "import-mbox [application] [mbox file]",
	Short: "Import the messages of an mbox archive as documents",
	Long: "Import the messages of an mbox archive as documents. Each message is saved " +
		"as an .eml file dated by its Date header.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			total, err := mbox.CountMessages(args[1])
			if err != nil {
				return err
			}
			bar := progress.New("Importing messages", stats.StageArchive, total, a.cfg.LogLevel)
			progress.NewReporter(a.runner, bar, a.logger)

			opts := mbox.Options{
				Path:       args[1],
				EntityID:   e.ID,
				StagingDir: filepath.Join(a.cfg.DataDir, ".staging"),
				Filter: filter.MessageOptions{
					IncludeHeader: mboxIncludeHeader,
					IncludeBody:   mboxIncludeBody,
					ExcludeHeader: mboxExcludeHeader,
					ExcludeBody:   mboxExcludeBody,
				},
			}
			producer, err := mbox.NewProducer(opts, a.runner, a.logger)
			if err != nil {
				return fmt.Errorf("mbox.NewProducer: %w", err)
			}
			if err := a.runner.Start(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d message(s) of %d\n", producer.Imported(), total)
			if !mboxNoSync && producer.Imported() > 0 {
				res, err := a.runner.Synchronize(ctx, e.ID)
				if err != nil {
					return err
				}
				if res.Changed() {
					fmt.Fprintf(cmd.OutOrStdout(), "folder renamed to %s\n", filepath.Base(res.Folder))
				}
			}
			if producer.Failed() > 0 {
				return fmt.Errorf("%d message(s) not imported", producer.Failed())
			}
			return nil
		})
	},
}

func init() {
	importMboxCmd.Flags().StringArrayVar(&mboxIncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	importMboxCmd.Flags().StringArrayVar(&mboxIncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	importMboxCmd.Flags().StringArrayVar(&mboxExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	importMboxCmd.Flags().StringArrayVar(&mboxExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	importMboxCmd.Flags().BoolVar(&mboxNoSync, "no-sync", false, "Do not rename the folder after importing")

	register(importMboxCmd)
}
