package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harunnryd/interviewflow/pkg/config"
	"github.com/harunnryd/interviewflow/pkg/logging"
	"github.com/harunnryd/interviewflow/pkg/runner"
)

var rootCmd = &cobra.Command{
	Use:           "interviewflow",
	Short:         "Scripted interview sessions driven by a conversation graph",
	Version:       runner.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return loadEnvFile(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before the config")
	rootCmd.PersistentFlags().String("log-level", "", "Override log_level")
	rootCmd.PersistentFlags().String("log-format", "", "Override log_format (json or text)")
}

// loadEnvFile reads path into the environment. A missing file is not an
// error; existing variables win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads --config and applies the logging flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}
	return cfg, nil
}

func initLogger(cfg config.Config, cmd *cobra.Command) *slog.Logger {
	return logging.InitLogger(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
