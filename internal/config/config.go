package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultDerivedDataPath   = "~/Library/Developer/Xcode/DerivedData"
	DefaultPollInterval      = 2 * time.Second
	DefaultDebounceWindow    = 5 * time.Second
	DefaultGracePeriod       = 5 * time.Second
	DefaultInactivityTimeout = 45 * time.Second
	DefaultVerbose           = false
)

// Holds the configuration options for xcwatch
type Config struct {
	// Path to the watched derived-data root
	DerivedDataPath string

	// Fallback timer interval for tracker polls
	PollInterval time.Duration

	// Debounce window for derived-data-changed notifications
	DebounceWindow time.Duration

	// Grace period before a new output log may finish a build
	GracePeriod time.Duration

	// Inactivity threshold for the cancellation path
	InactivityTimeout time.Duration

	// Delete projects older than this many days after each build
	// (0 disables auto-delete)
	AutoDeleteDays int

	// Warn when total derived-data size exceeds this many gigabytes
	// (0 disables the alert)
	SizeAlertGB int

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		DerivedDataPath:   viper.GetString("derived_data_path"),
		PollInterval:      viper.GetDuration("poll_interval"),
		DebounceWindow:    viper.GetDuration("debounce_window"),
		GracePeriod:       viper.GetDuration("grace_period"),
		InactivityTimeout: viper.GetDuration("inactivity_timeout"),
		AutoDeleteDays:    viper.GetInt("auto_delete_days"),
		SizeAlertGB:       viper.GetInt("size_alert_gb"),
		Verbose:           viper.GetBool("verbose"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	path, err := expandHome(c.DerivedDataPath)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid derived data path: %v", err)
	}

	c.DerivedDataPath = abs

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}

	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce window must be positive: %s", c.DebounceWindow)
	}

	if c.InactivityTimeout <= c.GracePeriod {
		return fmt.Errorf("inactivity timeout (%s) must exceed grace period (%s)",
			c.InactivityTimeout, c.GracePeriod)
	}

	if c.AutoDeleteDays < 0 {
		return fmt.Errorf("auto delete days cannot be negative: %d", c.AutoDeleteDays)
	}

	if c.SizeAlertGB < 0 {
		return fmt.Errorf("size alert threshold cannot be negative: %d", c.SizeAlertGB)
	}

	return nil
}

// expandHome resolves a leading "~/" against the current user's home
// directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}

		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}

	return path, nil
}
