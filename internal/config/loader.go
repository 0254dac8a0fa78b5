package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForCommand loads configuration for a CLI invocation: defaults, then
// the global config file, then a local one discovered by walking up from
// the working directory, then command flags.
func (l *Loader) LoadForCommand(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("derived_data_path", DefaultDerivedDataPath)
	viper.SetDefault("poll_interval", DefaultPollInterval)
	viper.SetDefault("debounce_window", DefaultDebounceWindow)
	viper.SetDefault("grace_period", DefaultGracePeriod)
	viper.SetDefault("inactivity_timeout", DefaultInactivityTimeout)
	viper.SetDefault("auto_delete_days", 0)
	viper.SetDefault("size_alert_gb", 0)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config
// directory
func (l *Loader) loadGlobalConfig() {
	base, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(base, "xcwatch")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration discovered from the working
// directory
func (l *Loader) loadLocalConfig() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	localPath := FindLocalConfig(cwd)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag("derived_data_path", cmd.Flags().Lookup("derived-data"))
	_ = viper.BindPFlag("poll_interval", cmd.Flags().Lookup("poll-interval"))
	_ = viper.BindPFlag("auto_delete_days", cmd.Flags().Lookup("auto-delete-days"))
	_ = viper.BindPFlag("size_alert_gb", cmd.Flags().Lookup("size-alert-gb"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
}
