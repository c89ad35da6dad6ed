package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RedRiverCN/SyncTrayzor/internal/client"
	"github.com/RedRiverCN/SyncTrayzor/internal/config"
	"github.com/RedRiverCN/SyncTrayzor/internal/utils"
	"github.com/RedRiverCN/SyncTrayzor/internal/version"
)

// configPath is the resolved config file location, set by loadConfig.
var configPath string

var rootCmd = &cobra.Command{
	Use:     "synctray",
	Short:   "Headless tray companion for Syncthing: watches synchronized folders for unresolved file conflicts",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:               configPath,
			Address:            viper.GetString("address"),
			APIKey:             viper.GetString("api_key"),
			WatchConflicts:     viper.GetBool("watch_conflicts"),
			DebounceSeconds:    viper.GetInt("debounce_seconds"),
			FolderCheckSeconds: viper.GetInt("folder_check_seconds"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		// First run: persist the effective config so later runs pick it up.
		if !utils.FileExists(configPath) {
			if err := cfg.Save(configPath); err != nil {
				slog.Warn("could not persist config", "path", configPath, "error", err)
			} else {
				slog.Info("config saved", "path", configPath)
			}
		}

		app, err := client.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return app.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("address", "a", config.DefaultAddress, "Syncthing API address")
	rootCmd.Flags().StringP("api-key", "k", "", "Syncthing API key")
	rootCmd.Flags().Bool("watch-conflicts", true, "Watch synchronized folders for conflict files")
	rootCmd.Flags().Int("debounce", config.DefaultDebounceSeconds, "Seconds to wait after a marker change before recomputing")
	rootCmd.Flags().Int("folder-check", config.DefaultFolderCheckSeconds, "Seconds between folder existence re-checks")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "synctray config file")
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file location and seeds viper with its
// contents. File values are installed as defaults so that flags set on the
// command line and SYNCTRAY_* environment variables still override them.
func loadConfig(cmd *cobra.Command) error {
	flagPath, _ := cmd.Flags().GetString("config")
	resolved, err := utils.ResolvePath(flagPath)
	if err != nil {
		return fmt.Errorf("config path '%s': %w", flagPath, err)
	}
	configPath = resolved

	if utils.FileExists(configPath) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config read '%s': %w", configPath, err)
		}
		viper.SetDefault("address", cfg.Address)
		viper.SetDefault("api_key", cfg.APIKey)
		viper.SetDefault("watch_conflicts", cfg.WatchConflicts)
		viper.SetDefault("debounce_seconds", cfg.DebounceSeconds)
		viper.SetDefault("folder_check_seconds", cfg.FolderCheckSeconds)
	}

	viper.BindPFlag("address", cmd.Flags().Lookup("address"))
	viper.BindPFlag("api_key", cmd.Flags().Lookup("api-key"))
	viper.BindPFlag("watch_conflicts", cmd.Flags().Lookup("watch-conflicts"))
	viper.BindPFlag("debounce_seconds", cmd.Flags().Lookup("debounce"))
	viper.BindPFlag("folder_check_seconds", cmd.Flags().Lookup("folder-check"))

	viper.SetEnvPrefix("SYNCTRAY")
	viper.AutomaticEnv()

	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("%s %s\n", version.AppName, version.Short())
}
