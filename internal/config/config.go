// Package config loads the CLI's run configuration file (schema-agent.yml
// by default) via viper. This is CLI-boundary configuration, not a
// core-pipeline concern: the core only ever sees the resolved base/head
// directories, adapter name, dialect name, and hints path that fall out
// of it.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// CLIConfig mirrors the `run` subcommand's YAML config shape.
type CLIConfig struct {
	Adapter      string `mapstructure:"adapter"`
	Dialect      string `mapstructure:"dialect"`
	BaseDir      string `mapstructure:"base_dir"`
	BaseModule   string `mapstructure:"base_module"`
	HeadDir      string `mapstructure:"head_dir"`
	HeadModule   string `mapstructure:"head_module"`
	SchemaHints  string `mapstructure:"schema_hints"`
	OutDir       string `mapstructure:"out_dir"`
	FailOnUnsafe bool   `mapstructure:"fail_on_unsafe"`
	SummaryOnly  bool   `mapstructure:"summary_only"`
	SummaryJSON  string `mapstructure:"summary_json"`
}

func defaults() CLIConfig {
	return CLIConfig{
		Adapter:      "sqlfile",
		Dialect:      "postgresql",
		OutDir:       ".",
		FailOnUnsafe: false,
		SummaryOnly:  false,
	}
}

// Load reads path (a YAML file) into a CLIConfig. BaseDir and HeadDir are
// required; Load returns an error if either is empty after decoding.
func Load(path string) (CLIConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := defaults()
	v.SetDefault("adapter", cfg.Adapter)
	v.SetDefault("dialect", cfg.Dialect)
	v.SetDefault("out_dir", cfg.OutDir)
	v.SetDefault("fail_on_unsafe", cfg.FailOnUnsafe)
	v.SetDefault("summary_only", cfg.SummaryOnly)

	if err := v.ReadInConfig(); err != nil {
		return CLIConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return CLIConfig{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if cfg.BaseDir == "" {
		return CLIConfig{}, fmt.Errorf("config: %s: base_dir is required", path)
	}
	if cfg.HeadDir == "" {
		return CLIConfig{}, fmt.Errorf("config: %s: head_dir is required", path)
	}

	return cfg, nil
}
