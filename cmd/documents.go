package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/progress"
	"github.com/dhcgn/apptrack/stats"
)

var (
	importNoSync  bool
	setDateNoSync bool
)

var importCmd = &cobra.Command{
	Use:   "import [application] [file...]",
	Short: "Move documents into an application's folder",
	Long: "Move documents into an application's folder. The last date found in each " +
		"document becomes its timestamp; the folder is then renamed after the oldest one.",
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			files := args[1:]
			bar := progress.New("Importing", stats.StageImport, len(files), a.cfg.LogLevel)
			a.runner.SubscribeStats("progress-bar", bar.Subscriber)
			stats.NewReporter(a.runner, a.logger)

			var failed int
			a.runner.AddStage("import", func(ctx context.Context) error {
				for _, file := range files {
					res, err := a.runner.Import(ctx, e.ID, file)
					if err != nil {
						failed++
						a.logger.Error("import failed", "entity", e.ID, "path", file, "err", err)
						if ctx.Err() != nil {
							return ctx.Err()
						}
						continue
					}
					if !res.DateFound {
						pterm.Warning.Printf("no date found in %s, using %s\n",
							filepath.Base(file), res.Document.Timestamp.Format("2006-01-02 15:04"))
					}
				}
				if importNoSync || failed == len(files) {
					return nil
				}
				_, err := a.runner.Synchronize(ctx, e.ID)
				return err
			})
			if err := a.runner.Start(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d document(s) not imported", failed, len(files))
			}
			return nil
		})
	},
}

var removeDocCmd = &cobra.Command{
	Use:   "remove-doc [application] [document]",
	Short: "Delete one document file and its reference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := findDocument(e, args[1])
			if err != nil {
				return err
			}
			if err := a.runner.RemoveDocument(ctx, e.ID, doc.Path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", doc.FileName())
			return nil
		})
	},
}

var setDateCmd = &cobra.Command{
	Use:   "set-date [application] [document] [YYYY-MM-DD HH:MM]",
	Short: "Set the timestamp of a document by hand",
	Long:  "Set the timestamp of a document by hand. An empty date clears it.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ts, err := parseTimestamp(args[2])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			doc, err := findDocument(e, args[1])
			if err != nil {
				return err
			}
			if _, err := a.runner.SetDocumentTimestamp(ctx, e.ID, doc.Path, ts); err != nil {
				return err
			}
			if setDateNoSync {
				return nil
			}
			res, err := a.runner.Synchronize(ctx, e.ID)
			if err != nil {
				return err
			}
			if res.Changed() {
				fmt.Fprintf(cmd.OutOrStdout(), "folder renamed to %s\n", filepath.Base(res.Folder))
			}
			return nil
		})
	},
}

func init() {
	importCmd.Flags().BoolVar(&importNoSync, "no-sync", false, "Do not rename the folder after importing")
	setDateCmd.Flags().BoolVar(&setDateNoSync, "no-sync", false, "Do not rename the folder after the change")

	register(importCmd)
	register(removeDocCmd)
	register(setDateCmd)
}

// findDocument resolves ref as a stored path or a file name, case-insensitively.
func findDocument(e model.Entity, ref string) (model.DocumentRef, error) {
	if doc, ok := e.Document(ref); ok {
		return doc, nil
	}
	var matches []model.DocumentRef
	for _, doc := range e.Documents {
		if strings.EqualFold(doc.FileName(), ref) || strings.EqualFold(filepath.Base(doc.Path), ref) {
			matches = append(matches, doc)
		}
	}
	switch len(matches) {
	case 0:
		return model.DocumentRef{}, fmt.Errorf("%s has no document %q", e.Label(), ref)
	case 1:
		return matches[0], nil
	default:
		return model.DocumentRef{}, fmt.Errorf("%q matches %d documents of %s", ref, len(matches), e.Label())
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	model.DateTimeLayout,
	"2006-01-02T15:04",
	model.DateLayout,
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected YYYY-MM-DD HH:MM", raw)
}
