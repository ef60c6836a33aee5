package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = ""
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(dkgCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print psignerd version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "psignerd")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Commit:     %s\n", Commit)
			fmt.Fprintf(out, "Go:         %s\n", runtime.Version())
		},
	}
}
