package main

import (
	"os"

	"github.com/spf13/cobra"

	livra "github.com/howk27/livra-sub000"
)

var (
	cfgFile       string
	cfgDBPath     string
	cfgBackendURL string
	cfgAPIKey     string
	cfgUserID     string
	outputJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "livra",
	Short: "Livra - offline-first habit tracking",
	Long: `Livra tracks habit counters locally and keeps them in sync
across devices.

Every command works offline; changes are pushed to the backend
opportunistically and conflicts resolve without losing progress.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&cfgDBPath, "db-path", "", "Path to local database (default: ~/.livra/livra.db)")
	rootCmd.PersistentFlags().StringVar(&cfgBackendURL, "url", "", "URL of the sync backend")
	rootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for backend authentication")
	rootCmd.PersistentFlags().StringVar(&cfgUserID, "user", "", "User id that owns this device's rows")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(streakCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (livra.Config, error) {
	cfg := livra.Config{AutoSync: true, Realtime: true}

	if cfgFile != "" {
		fileCfg, err := livra.LoadConfigFile(cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	// Environment fills in what the file left empty
	if v := os.Getenv("LIVRA_DB_PATH"); v != "" && cfg.LocalPath == "" {
		cfg.LocalPath = v
	}
	if v := os.Getenv("LIVRA_URL"); v != "" && cfg.BackendURL == "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("LIVRA_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("LIVRA_USER_ID"); v != "" && cfg.UserID == "" {
		cfg.UserID = v
	}
	if os.Getenv("LIVRA_DEBUG") != "" {
		cfg.Debug = true
	}
	if v := os.Getenv("LIVRA_DEBUG_LOG"); v != "" && cfg.DebugLogPath == "" {
		cfg.DebugLogPath = v
	}

	// Flags override everything
	if cfgDBPath != "" {
		cfg.LocalPath = cfgDBPath
	}
	if cfgBackendURL != "" {
		cfg.BackendURL = cfgBackendURL
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgUserID != "" {
		cfg.UserID = cfgUserID
	}

	return cfg.WithDefaults(), nil
}

// newClient builds a client for one-shot commands: no background ticker,
// no realtime stream.
func newClient() (*livra.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.AutoSync = false
	cfg.Realtime = false
	return livra.New(cfg)
}
