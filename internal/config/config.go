package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/poller"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// EXINSTALLER_INSTALL_DIR.
const EnvPrefix = "EXINSTALLER"

// TimeLimits holds the Arduino CLI command time limits and the limit on
// git clone and pull. Zero means unbounded.
type TimeLimits struct {
	Default        time.Duration `mapstructure:"default"`
	ListBoards     time.Duration `mapstructure:"list_boards"`
	InstallPackage time.Duration `mapstructure:"install_package"`
	Git            time.Duration `mapstructure:"git"`
}

// Config holds all runtime configuration for the installer.
// Values are populated from .exinstaller.yaml, EXINSTALLER_* env vars, and
// CLI flags.
type Config struct {
	InstallDir   string        `mapstructure:"install_dir"`
	CLIPath      string        `mapstructure:"cli_path"`
	RepoDir      string        `mapstructure:"repo_dir"`
	DBPath       string        `mapstructure:"db_path"`
	LogFile      string        `mapstructure:"log_file"`
	Debug        bool          `mapstructure:"debug"`
	Fake         bool          `mapstructure:"fake"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TimeLimits   TimeLimits    `mapstructure:"time_limits"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. Paths left empty
// are derived from install_dir.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("could not obtain user home directory: %w", err)
	}

	viper.SetDefault("install_dir", filepath.Join(home, "ex-installer"))
	viper.SetDefault("cli_path", "")
	viper.SetDefault("repo_dir", "")
	viper.SetDefault("db_path", "")
	viper.SetDefault("log_file", "")
	viper.SetDefault("debug", false)
	viper.SetDefault("fake", false)
	viper.SetDefault("poll_interval", poller.DefaultInterval)
	viper.SetDefault("time_limits.default", worker.DefaultTimeLimit)
	viper.SetDefault("time_limits.list_boards", arduino.ListBoardsTimeLimit)
	viper.SetDefault("time_limits.install_package", arduino.InstallPackageTimeLimit)
	viper.SetDefault("time_limits.git", time.Duration(0))

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.CLIPath == "" {
		cfg.CLIPath = arduino.CLIFilePath(cfg.InstallDir)
	}
	if cfg.RepoDir == "" {
		cfg.RepoDir = filepath.Join(cfg.InstallDir, "repos")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.InstallDir, "exinstaller.db")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.InstallDir, "logs", "exinstaller.log")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	return cfg, nil
}

// ArduinoTimeLimits converts the configured limits for the Arduino manager.
func (c Config) ArduinoTimeLimits() arduino.TimeLimits {
	return arduino.TimeLimits{
		Default:        c.TimeLimits.Default,
		ListBoards:     c.TimeLimits.ListBoards,
		InstallPackage: c.TimeLimits.InstallPackage,
	}
}
