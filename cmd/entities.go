package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/filter"
	"github.com/dhcgn/apptrack/model"
)

var (
	entityStatus   string
	entityApplied  string
	entityNotes    string
	entityFollowUp string
	entityCompany  string
	entityPosition string

	listSearch    string
	listStatus    string
	listMonth     string
	listDocuments string
	listResponded string
	listInclude   []string
	listExclude   []string
	listPlain     bool
	listLong      bool

	deleteYes bool
)

var addCmd = &cobra.Command{
	Use:   "add [company] [position]",
	Short: "Track a new application",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := model.Entity{Company: args[0], Position: args[1], Notes: entityNotes}
		if err := applyEntityFlags(cmd, &e); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			added, err := a.runner.Add(ctx, e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", shortID(added.ID), added.Label())
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit [application]",
	Short: "Change fields of an application",
	Long:  "Change fields of an application. The folder keeps its name until the next sync.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			updated, err := a.runner.Update(ctx, e.ID, func(edit *model.Entity) error {
				if cmd.Flags().Changed("company") {
					edit.Company = entityCompany
				}
				if cmd.Flags().Changed("position") {
					edit.Position = entityPosition
				}
				if cmd.Flags().Changed("notes") {
					edit.Notes = entityNotes
				}
				return applyEntityFlags(cmd, edit)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", shortID(updated.ID), updated.Label(), updated.Status.Label())
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List applications, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := listFilter()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entities, err := a.runner.Snapshot(ctx)
			if err != nil {
				return err
			}
			entities = f.Apply(entities)
			if listPlain {
				printPlain(cmd, entities)
				return nil
			}
			return printTable(cmd, entities)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [application]",
	Short: "Delete an application together with its folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.find(ctx, args[0])
			if err != nil {
				return err
			}
			if !deleteYes {
				ok, err := pterm.DefaultInteractiveConfirm.
					WithDefaultText(fmt.Sprintf("Delete %s and %d document(s)?", e.Label(), len(e.Documents))).
					Show()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := a.runner.Delete(ctx, e.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", e.Label())
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVar(&entityStatus, "status", "", "Status: pending, rejected, interview")
		c.Flags().StringVar(&entityApplied, "applied", "", "Application date, YYYY-MM-DD (default today)")
		c.Flags().StringVar(&entityNotes, "notes", "", "Free text notes")
		c.Flags().StringVar(&entityFollowUp, "follow-up", "", "Follow-up date, YYYY-MM-DD; empty clears it")
	}
	editCmd.Flags().StringVar(&entityCompany, "company", "", "Company name")
	editCmd.Flags().StringVar(&entityPosition, "position", "", "Position title")

	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Case-insensitive text in company, position or notes")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only this status")
	listCmd.Flags().StringVar(&listMonth, "month", "", "Only applications of this month, YYYY-MM")
	listCmd.Flags().StringVar(&listDocuments, "with-documents", "", "yes, no or any")
	listCmd.Flags().StringVar(&listResponded, "responded", "", "yes, no or any")
	listCmd.Flags().StringArrayVar(&listInclude, "include", nil, "Regex allow-list applied to company and position (mutually exclusive with --exclude)")
	listCmd.Flags().StringArrayVar(&listExclude, "exclude", nil, "Regex block-list applied to company and position (mutually exclusive with --include)")
	listCmd.Flags().BoolVar(&listPlain, "plain", false, "Tab separated output without table")
	listCmd.Flags().BoolVarP(&listLong, "long", "l", false, "Also list documents")

	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")

	register(addCmd)
	register(editCmd)
	register(listCmd)
	register(deleteCmd)
}

func applyEntityFlags(cmd *cobra.Command, e *model.Entity) error {
	flags := cmd.Flags()
	if flags.Changed("status") {
		status, err := model.ParseStatus(entityStatus)
		if err != nil {
			return fmt.Errorf("--status: %w", err)
		}
		e.Status = status
	}
	if flags.Changed("applied") {
		day, err := parseDay(entityApplied)
		if err != nil {
			return fmt.Errorf("--applied: %w", err)
		}
		e.AppliedOn = day
	}
	if flags.Changed("follow-up") {
		day, err := parseDay(entityFollowUp)
		if err != nil {
			return fmt.Errorf("--follow-up: %w", err)
		}
		e.FollowUp = day
	}
	return nil
}

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(model.DateLayout, raw, time.Local)
}

func listFilter() (*filter.Filter, error) {
	opts := filter.Options{
		Search:  listSearch,
		Month:   listMonth,
		Include: listInclude,
		Exclude: listExclude,
	}
	if listStatus != "" {
		status, err := model.ParseStatus(listStatus)
		if err != nil {
			return nil, fmt.Errorf("--status: %w", err)
		}
		opts.Status = status
	}
	var err error
	if opts.HasDocuments, err = filter.ParseTristate(listDocuments); err != nil {
		return nil, fmt.Errorf("--with-documents: %w", err)
	}
	if opts.Responded, err = filter.ParseTristate(listResponded); err != nil {
		return nil, fmt.Errorf("--responded: %w", err)
	}
	return filter.New(opts)
}

func printPlain(cmd *cobra.Command, entities []model.Entity) {
	out := cmd.OutOrStdout()
	for _, e := range entities {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(e.ID), formatDay(e.AppliedOn), e.Company, e.Position, e.Status, len(e.Documents), e.Folder)
		if listLong {
			printDocuments(cmd, e)
		}
	}
}

func printTable(cmd *cobra.Command, entities []model.Entity) error {
	data := pterm.TableData{{"ID", "Applied", "Company", "Position", "Status", "Docs", "Follow-up"}}
	for _, e := range entities {
		data = append(data, []string{
			shortID(e.ID), formatDay(e.AppliedOn), e.Company, e.Position, e.Status.Label(),
			fmt.Sprint(len(e.Documents)), formatDay(e.FollowUp),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	if listLong {
		for _, e := range entities {
			if len(e.Documents) == 0 {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s  %s\n", shortID(e.ID), e.Folder)
			printDocuments(cmd, e)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d application(s)\n", len(entities))
	return nil
}

func printDocuments(cmd *cobra.Command, e model.Entity) {
	docs := e.Clone().Documents
	model.SortDocuments(docs)
	for _, doc := range docs {
		ts := "-"
		if doc.HasTimestamp() {
			ts = doc.Timestamp.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\t%s\t%s\n", ts, doc.FileName())
	}
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(model.DateLayout)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
