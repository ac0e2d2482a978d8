// engine/internal/config/config.go
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type FamilyConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"` // override for tests and self-hosted mirrors
}

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Queue struct {
		Workers     int `yaml:"workers"`
		MaxAttempts int `yaml:"max_attempts"`
		KeepFailed  int `yaml:"keep_failed"`
	} `yaml:"queue"`

	Sweep struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		WindowDays      int `yaml:"window_days"`
	} `yaml:"sweep"`

	Scrape struct {
		RequestsPerSec float64      `yaml:"requests_per_sec"`
		Burst          int          `yaml:"burst"`
		Linkintime     FamilyConfig `yaml:"linkintime"`
		Kfintech       FamilyConfig `yaml:"kfintech"`
		Bigshare       FamilyConfig `yaml:"bigshare"`
	} `yaml:"scrape"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}
