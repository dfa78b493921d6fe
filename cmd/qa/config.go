package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds CLI defaults loaded from file and environment.
type Config struct {
	DefaultOutputDir   string
	DefaultHeadless    bool
	DefaultMaxActions  int
	DefaultMaxDuration int
	S3Bucket           string
	S3Region           string
}

// LoadConfig reads config.yaml (cwd or ~/.playprobe) and PLAYPROBE_* env
// vars. A missing config file is fine, defaults apply.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.playprobe")

	viper.SetDefault("output_dir", "./qa-results")
	viper.SetDefault("headless", true)
	viper.SetDefault("max_actions", 30)
	viper.SetDefault("max_duration", 300)
	viper.SetDefault("s3_bucket", "")
	viper.SetDefault("s3_region", "")

	viper.SetEnvPrefix("PLAYPROBE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Config{
		DefaultOutputDir:   viper.GetString("output_dir"),
		DefaultHeadless:    viper.GetBool("headless"),
		DefaultMaxActions:  viper.GetInt("max_actions"),
		DefaultMaxDuration: viper.GetInt("max_duration"),
		S3Bucket:           viper.GetString("s3_bucket"),
		S3Region:           viper.GetString("s3_region"),
	}, nil
}

// EnsureOutputDir creates the output directory if it doesn't exist.
func EnsureOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return nil
}
