// Package main implements the deepresearch CLI.
//
// deepresearch answers a research question by discovering candidate links,
// routing them to per-platform specialists in parallel and synthesizing a
// markdown report from whatever evidence survived.
//
// Commands:
//
//	deepresearch run "iphone 17 launch updates"
//	deepresearch classify https://youtu.be/abc https://x.com/someone
//	deepresearch config init|show
//	deepresearch cache stats|clear
package main

import (
	"fmt"
	"os"
	"time"

	"deepresearch/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	timeout    time.Duration
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "deepresearch - staged multi-platform research assistant",
	Long: `deepresearch turns a question into a sourced research report.

A run discovers candidate links, buckets them by platform (web, youtube,
instagram, linkedin, x), processes every bucket in an isolated specialist
branch and synthesizes one markdown answer from the surviving evidence.
A failing platform never takes the others down with it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		zcfg.OutputPaths = []string{"stderr"}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync() // stderr sync errors are harmless
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Run timeout (default: limits.run_timeout from config)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: .deepresearch/config.yaml)")

	// Run flags
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full result as JSON")
	runCmd.Flags().BoolVar(&rawOutput, "raw", false, "Print the markdown answer without terminal rendering")
	runCmd.Flags().StringVar(&modeOverride, "mode", "", "Discovery classifier: rules or llm")

	// Cache flags
	cacheClearCmd.Flags().StringVar(&cacheNamespace, "namespace", "", "Only clear one namespace (search, extract)")

	// Config flags
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config value or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when missing.
func loadConfig() (*config.Config, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Debug("Loaded config", zap.String("path", path))
	}
	return cfg, nil
}
