package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harunnryd/interviewflow/pkg/app"
	"github.com/harunnryd/interviewflow/pkg/graph"
)

var validateCmd = &cobra.Command{
	Use:   "validate [graph]",
	Short: "Check an interview script without starting a session",
	Long: `Load and validate an interview script. With no argument the script named
by graph.path in the config file is checked, together with the config itself.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path = cfg.Graph.Path
		}
		g, err := app.LoadGraph(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		counts := map[graph.NodeType]int{}
		for _, n := range g.Nodes() {
			counts[n.Type]++
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d questions, %d branches)\n",
			path, len(g.Nodes()), counts[graph.NodeQuestion], counts[graph.NodeBranch])
		return err
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
