package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"github.com/harunnryd/interviewflow/pkg/app"
	"github.com/harunnryd/interviewflow/pkg/config"
	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/transports/console"
)

var chatCmd = &cobra.Command{
	Use:   "chat [graph]",
	Short: "Run one interview in the terminal",
	Long: `Run a single session with stdin as the participant. Type /quit to leave.
Without a config file the mock gateway is used, so a script can be walked
through offline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := chatConfig(cmd, args)
		if err != nil {
			return err
		}
		logger := initLogger(cfg, cmd)

		var observers []events.Observer
		if path, _ := cmd.Flags().GetString("events"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			observers = append(observers, events.NewJSONLObserver(f))
		}

		a, err := app.New(cfg, logger, app.Options{Providers: app.DefaultProviders(), Observers: observers})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		res, err := a.Engine.Run(ctx, console.New(cmd.InOrStdin(), out))
		fmt.Fprintf(out, "\n--- session %s ended: %s", res.SessionID, res.Reason)
		if res.Rationale != "" {
			fmt.Fprintf(out, " (%s)", res.Rationale)
		}
		fmt.Fprintln(out)
		ids := make([]string, 0, len(res.Answers))
		for id := range res.Answers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "%s: %s\n", id, res.Answers[id])
		}
		return err
	},
}

func init() {
	chatCmd.Flags().Bool("mock", false, "Use the mock gateway regardless of the config")
	chatCmd.Flags().String("events", "", "Write session events as JSON lines to this file")
	rootCmd.AddCommand(chatCmd)
}

func chatConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	mock, _ := cmd.Flags().GetBool("mock")

	var cfg config.Config
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
		cfg.LogLevel = "warn"
		mock = true
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.LogLevel = lvl
		}
		if format, _ := cmd.Flags().GetString("log-format"); format != "" {
			cfg.LogFormat = format
		}
	} else {
		// Lets a config without graph.path pass validation.
		if len(args) == 1 {
			os.Setenv("INTERVIEWFLOW_GRAPH_PATH", args[0])
		}
		loaded, err := loadConfig(cmd)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if len(args) == 1 {
		cfg.Graph.Path = args[0]
	}
	if mock {
		cfg.Gateway.Provider = "mock"
		cfg.Gateway.Settings = nil
	}
	return cfg, cfg.Validate()
}
