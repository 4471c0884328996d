package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/harunnryd/interviewflow/pkg/runner"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "interviewflow %s (%s %s/%s)\n",
			runner.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
