// config/overlay.go
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// RegistrarsFile is an optional side file overriding registrar endpoints,
// useful when a family moves domains (Link Intime -> MUFG) faster than a
// release cycle.
type RegistrarsFile struct {
	Scrape struct {
		Linkintime FamilyConfig `yaml:"linkintime"`
		Kfintech   FamilyConfig `yaml:"kfintech"`
		Bigshare   FamilyConfig `yaml:"bigshare"`
	} `yaml:"scrape"`
}

func OverlayRegistrars(cfg *Config, registrarsPath string) error {
	b, err := os.ReadFile(registrarsPath)
	if err != nil {
		// Missing overlay file should not kill startup
		return nil
	}

	var rf RegistrarsFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return err
	}

	if rf.Scrape.Linkintime.BaseURL != "" {
		cfg.Scrape.Linkintime.BaseURL = rf.Scrape.Linkintime.BaseURL
	}
	if rf.Scrape.Kfintech.BaseURL != "" {
		cfg.Scrape.Kfintech.BaseURL = rf.Scrape.Kfintech.BaseURL
	}
	if rf.Scrape.Bigshare.BaseURL != "" {
		cfg.Scrape.Bigshare.BaseURL = rf.Scrape.Bigshare.BaseURL
	}
	return nil
}
