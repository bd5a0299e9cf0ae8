package main

import (
	"fmt"
	"os"
	"sort"

	"deepresearch/internal/config"
	"deepresearch/internal/discovery"
	"deepresearch/internal/schema"
	"deepresearch/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	cacheNamespace string
	forceInit      bool
)

// classifyCmd shows how discovery would bucket the given links
var classifyCmd = &cobra.Command{
	Use:   "classify [url...]",
	Short: "Show the platform category for each link",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		for _, raw := range args {
			id, err := schema.NormalizeIdentifier(raw)
			if err != nil {
				fmt.Fprintf(w, "%-10s %s (%v)\n", "invalid", raw, err)
				continue
			}
			fmt.Fprintf(w, "%-10s %s\n", discovery.Classify(id), id)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveConfigPath()
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		logger.Info("Wrote default config", zap.String("path", path))
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Prints the loaded configuration after environment overrides. API keys are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LLM.APIKey != "" {
			cfg.LLM.APIKey = maskKey(cfg.LLM.APIKey)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the retrieval cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCacheStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(commandContext(cmd))
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Cache: %s (%s)\n", stats.Path, stats.Driver)
		fmt.Fprintf(w, "Entries: %d (%d expired)\n", stats.Total, stats.Expired)
		namespaces := make([]string, 0, len(stats.ByNamespace))
		for ns := range stats.ByNamespace {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)
		for _, ns := range namespaces {
			fmt.Fprintf(w, "  %-8s %d\n", ns, stats.ByNamespace[ns])
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached searches and pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCacheStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Clear(commandContext(cmd), cacheNamespace)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", n)
		return nil
	},
}

// openCacheStore opens the configured persistent cache.
func openCacheStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.IsPersistent() {
		return nil, fmt.Errorf("no persistent cache configured (cache.enabled=%v, cache.driver=%s)", cfg.Cache.Enabled, cfg.Cache.Driver)
	}
	return store.Open(cfg.Cache.Driver, cfg.Cache.Path)
}
