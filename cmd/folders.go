package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/folder"
	"github.com/dhcgn/apptrack/progress"
	"github.com/dhcgn/apptrack/runner"
	"github.com/dhcgn/apptrack/stats"
	"github.com/dhcgn/apptrack/watch"
)

var (
	checkFix      bool
	watchDebounce time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rename every folder after its oldest document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entities, err := a.runner.Snapshot(ctx)
			if err != nil {
				return err
			}
			bar := progress.New("Synchronizing", stats.StageSync, len(entities), a.cfg.LogLevel)
			progress.NewReporter(a.runner, bar, a.logger)

			var report runner.SweepReport
			a.runner.AddStage("sync", func(ctx context.Context) error {
				var err error
				report, err = a.runner.SynchronizeAll(ctx)
				return err
			})
			if err := a.runner.Start(); err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d folder(s) could not be synchronized", len(report.Failed))
			}
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the records with the folders on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if checkFix {
				changes, err := a.runner.Reconcile(ctx)
				if err != nil {
					return err
				}
				for _, c := range changes {
					fmt.Fprintf(cmd.OutOrStdout(), "fixed %s: %s -> %s\n", shortID(c.EntityID), c.From, c.To)
				}
			}
			issues, err := a.runner.Check(ctx)
			if err != nil {
				return err
			}
			printIssues(cmd, issues)
			if len(issues) > 0 {
				return fmt.Errorf("%d issue(s) found", len(issues))
			}
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep paths and folder names in line while files change on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			w, err := watch.New(watch.Options{Root: a.cfg.DataDir, Debounce: watchDebounce, Logger: a.logger}, func(ctx context.Context) error {
				return refresh(ctx, a)
			})
			if err != nil {
				return err
			}
			if err := refresh(ctx, a); err != nil {
				return err
			}
			return w.Run(ctx)
		})
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkFix, "fix", false, "Rewrite stored document paths before checking")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before reacting to changes")

	register(syncCmd)
	register(checkCmd)
	register(watchCmd)
}

// refresh re-derives document paths, renames folders and logs what still
// disagrees with the disk.
func refresh(ctx context.Context, a *app) error {
	changes, err := a.runner.Reconcile(ctx)
	if err != nil {
		return err
	}
	report, err := a.runner.SynchronizeAll(ctx)
	if err != nil {
		return err
	}
	issues, err := a.runner.Check(ctx)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		a.logger.Warn("folder issue", "entity", issue.EntityID, "kind", issue.Kind, "path", issue.Path)
	}
	a.logger.Info("refreshed", "paths", len(changes), "renamed", len(report.Renamed)+len(report.Adopted), "issues", len(issues))
	return nil
}

func printIssues(cmd *cobra.Command, issues []folder.Issue) {
	if len(issues) == 0 {
		pterm.Success.Println("records and folders agree")
		return
	}
	byKind := make(map[string]int)
	for _, issue := range issues {
		byKind[string(issue.Kind)]++
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", shortID(issue.EntityID), issue.Kind, issue.Path)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		pterm.Warning.Printf("%s: %d\n", k, byKind[k])
	}
}
