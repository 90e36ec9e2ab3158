// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`

	// DestRoot is the backup destination root directory.
	DestRoot string `mapstructure:"DEST_ROOT"`

	// Target is a user or organization login. Empty means the
	// authenticated user.
	Target    string `mapstructure:"TARGET"`
	TargetOrg bool   `mapstructure:"TARGET_ORG"`

	Visibility string `mapstructure:"VISIBILITY"`
	Starred    bool   `mapstructure:"STARRED"`
	Watched    bool   `mapstructure:"WATCHED"`
	Orgs       bool   `mapstructure:"ORGS"`
	Gists      bool   `mapstructure:"GISTS"`

	Include      string   `mapstructure:"INCLUDE"`
	Exclude      string   `mapstructure:"EXCLUDE"`
	ExcludeNames []string `mapstructure:"EXCLUDE_NAMES"`
	SkipForks    bool   `mapstructure:"SKIP_FORKS"`
	SkipArchived bool   `mapstructure:"SKIP_ARCHIVED"`
	MaxSizeKB    int64  `mapstructure:"MAX_SIZE_KB"`

	Workers int  `mapstructure:"WORKERS"`
	Mirror  bool `mapstructure:"MIRROR"`
	LFS     bool `mapstructure:"LFS"`
	DryRun  bool `mapstructure:"DRY_RUN"`
	NoSSH   bool `mapstructure:"NO_SSH"`
	Force   bool `mapstructure:"FORCE"`

	Exports []string `mapstructure:"EXPORTS"`

	CloneTimeout time.Duration `mapstructure:"CLONE_TIMEOUT"`
	FetchTimeout time.Duration `mapstructure:"FETCH_TIMEOUT"`
	LFSTimeout   time.Duration `mapstructure:"LFS_TIMEOUT"`

	// Compiled forms of Include and Exclude.
	IncludeRE *regexp.Regexp `mapstructure:"-"`
	ExcludeRE *regexp.Regexp `mapstructure:"-"`
}

var validExports = map[string]bool{
	"issues": true, "pulls": true, "releases": true, "workflows": true, "wiki": true,
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("VISIBILITY", "all")
	viper.SetDefault("WORKERS", 4)
	viper.SetDefault("CLONE_TIMEOUT", "300s")
	viper.SetDefault("FETCH_TIMEOUT", "120s")
	viper.SetDefault("LFS_TIMEOUT", "600s")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and compiles the filter patterns.
// It fails fast so a bad run never reaches the network.
func (c *Config) Validate() error {
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if c.DestRoot == "" {
		return errors.New("DEST_ROOT is a required configuration field")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}

	switch c.Visibility {
	case "all", "public", "private":
	default:
		return fmt.Errorf("VISIBILITY must be all, public or private, got %q", c.Visibility)
	}

	if c.TargetOrg && c.Target == "" {
		return errors.New("TARGET_ORG requires TARGET to name an organization")
	}
	if c.MaxSizeKB < 0 {
		return fmt.Errorf("MAX_SIZE_KB must not be negative, got %d", c.MaxSizeKB)
	}

	for _, e := range c.Exports {
		if !validExports[e] {
			return fmt.Errorf("EXPORTS contains unknown export %q", e)
		}
	}

	if c.Include != "" {
		re, err := regexp.Compile(c.Include)
		if err != nil {
			return fmt.Errorf("INCLUDE is not a valid pattern: %w", err)
		}
		c.IncludeRE = re
	}
	if c.Exclude != "" {
		re, err := regexp.Compile(c.Exclude)
		if err != nil {
			return fmt.Errorf("EXCLUDE is not a valid pattern: %w", err)
		}
		c.ExcludeRE = re
	}
	return nil
}
