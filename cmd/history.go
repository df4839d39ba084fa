package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/config"
	"github.com/dhcgn/apptrack/state"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the latest file operations from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}
		entries, err := state.ReadJournal(cfg.JournalPath(), historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s", e.Time.Local().Format("2006-01-02 15:04:05"), e.Op, shortID(e.EntityID), e.From)
			if e.To != "" {
				fmt.Fprintf(out, " -> %s", e.To)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries; 0 shows all")
	register(historyCmd)
}
