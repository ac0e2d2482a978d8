package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

func EnsureUserConfig(dataDir string, defaultPath string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	// Copy defaultPath -> userPath; if there is no shipped default,
	// synthesize one so first run works out of the box.
	src, err := os.Open(defaultPath)
	if errors.Is(err, os.ErrNotExist) {
		def := Default()
		if err := SaveAtomic(userPath, def); err != nil {
			return "", err
		}
		return userPath, nil
	}
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(userPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	return userPath, nil
}

// Default is the configuration a fresh install runs with: all registrar
// families enabled against their public sites.
func Default() Config {
	var cfg Config
	cfg.Scrape.Linkintime.Enabled = true
	cfg.Scrape.Kfintech.Enabled = true
	cfg.Scrape.Bigshare.Enabled = true
	cfg, _ = NormalizeAndValidate(cfg)
	return cfg
}
