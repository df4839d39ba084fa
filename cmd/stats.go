package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/stats"
)

var (
	reportDir string
	topN      int
	statsCSV  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics over the applications",
	Long:  "Show statistics over the applications. The list filter flags select which ones count.",
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
			report := stats.Build(entities)
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, pterm.Bold.Sprint("Applications"))
			fmt.Fprintf(out, "Total: %d\n", report.Total)
			fmt.Fprintf(out, "Responded: %d (%.1f%%)\n", report.Responded, report.ResponseRate())
			fmt.Fprintf(out, "With documents: %d\n\n", report.WithDocuments)

			fmt.Fprintln(out, "By status:")
			for _, s := range model.Statuses {
				fmt.Fprintf(out, "  %s: %d\n", s.Label(), report.ByStatus[s])
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "By month:")
			for _, m := range report.Months() {
				fmt.Fprintf(out, "  %s: %d\n", m, report.ByMonth[m])
			}
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Top %d companies:\n", topN)
			stats.PrettyPrintTop(out, report.ByCompany, topN)

			if !statsCSV {
				return nil
			}
			if err := saveCSVReports(report, entities, reportDir); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	statsCmd.Flags().BoolVar(&statsCSV, "csv", false, "Also write CSV reports")
	statsCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Case-insensitive text in company, position or notes")
	statsCmd.Flags().StringVar(&listStatus, "status", "", "Only this status")
	statsCmd.Flags().StringVar(&listMonth, "month", "", "Only applications of this month, YYYY-MM")
	statsCmd.Flags().StringVar(&listDocuments, "with-documents", "", "yes, no or any")
	statsCmd.Flags().StringVar(&listResponded, "responded", "", "yes, no or any")

	register(statsCmd)
}

// saveCSVReports writes report_applications.csv with one row per
// application and one count file per grouping.
func saveCSVReports(report stats.Report, entities []model.Entity, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	file, err := os.Create(filepath.Join(dir, "report_applications.csv"))
	if err != nil {
		return err
	}
	if err := stats.WriteCSV(file, entities); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	byStatus := make(map[string]int, len(report.ByStatus))
	for s, n := range report.ByStatus {
		byStatus[string(s)] = n
	}
	groups := []struct {
		name   string
		counts map[string]int
	}{
		{"status", byStatus},
		{"company", report.ByCompany},
		{"month", report.ByMonth},
	}
	for _, g := range groups {
		if err := writeCounts(filepath.Join(dir, "report_"+g.name+".csv"), g.counts); err != nil {
			return err
		}
	}
	return nil
}

func writeCounts(path string, counts map[string]int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		file.Close()
		return err
	}
	for _, p := range stats.Top(counts, len(counts)) {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			file.Close()
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
