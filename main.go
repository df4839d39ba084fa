package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/cmd"
	"github.com/dhcgn/apptrack/config"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	rootCmd := newRootCmd()
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	cmd.AddCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "apptrack",
		Short:         "Track job applications and keep one dated folder of documents per application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
