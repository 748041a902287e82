package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/config"
	"github.com/gzhole/promptshield/internal/logging"
)

var (
	configPath string
	policyPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "promptshield",
	Short: "PromptShield - prompt screening for autonomous agents",
	Long: `PromptShield inspects prompts submitted by autonomous agents, scores them
for manipulation risk, matches them against declarative policies and returns
an explainable allow / warn / modify / block verdict. Every verdict can be
recorded in a hash-chained audit ledger.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: ~/.promptshield/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Policy YAML file or pack directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig applies persistent flags on top of file and environment values.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if policyPath != "" {
		cfg.Policy.Path = policyPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
