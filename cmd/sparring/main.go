package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sparringlabs/sparring/logger"
)

var rootCmd = &cobra.Command{
	Use:           "sparring",
	Short:         "Sparring - Adversarial multi-turn conversation simulation",
	Version:       GetVersion(),
	SilenceUsage:  true,  // Don't print usage on error
	SilenceErrors: false, // Do print errors
	Long: `Sparring drives adversarial multi-turn conversations between an agent
under evaluation and a scripted counterpart, one conversation per dataset
record, and grades the resulting transcripts.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize logger based on verbose flag if present
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
}

func Execute() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
