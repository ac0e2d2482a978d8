package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func Validate(cfg Config) error {
	var errs []string

	if cfg.App.Port <= 0 || cfg.App.Port > 65535 {
		errs = append(errs, "app.port must be 1..65535")
	}
	if cfg.Queue.Workers < 0 {
		errs = append(errs, "queue.workers must be >= 0")
	}
	if cfg.Queue.MaxAttempts < 0 {
		errs = append(errs, "queue.max_attempts must be >= 0")
	}
	if cfg.Queue.KeepFailed < 0 {
		errs = append(errs, "queue.keep_failed must be >= 0")
	}
	if cfg.Sweep.IntervalMinutes < 0 {
		errs = append(errs, "sweep.interval_minutes must be >= 0")
	}
	if cfg.Sweep.WindowDays < 0 {
		errs = append(errs, "sweep.window_days must be >= 0")
	}
	if cfg.Scrape.RequestsPerSec < 0 {
		errs = append(errs, "scrape.requests_per_sec must be >= 0")
	}
	if cfg.Scrape.Burst < 0 {
		errs = append(errs, "scrape.burst must be >= 0")
	}

	checkFamily := func(name string, fc FamilyConfig) {
		if fc.BaseURL != "" && !hasScheme(fc.BaseURL) {
			errs = append(errs, fmt.Sprintf("scrape.%s.base_url must be an http(s) URL", name))
		}
	}
	checkFamily("linkintime", cfg.Scrape.Linkintime)
	checkFamily("kfintech", cfg.Scrape.Kfintech)
	checkFamily("bigshare", cfg.Scrape.Bigshare)

	if !cfg.Scrape.Linkintime.Enabled && !cfg.Scrape.Kfintech.Enabled && !cfg.Scrape.Bigshare.Enabled {
		errs = append(errs, "no registrar family enabled; the engine would resolve nothing")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n- " + joinLines(errs))
	}
	return nil
}

func hasScheme(u string) bool {
	return len(u) > 8 && (u[:7] == "http://" || u[:8] == "https://")
}

func SaveAtomic(path string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}

func joinLines(lines []string) string {
	out := ""
	for i, s := range lines {
		if i > 0 {
			out += "\n- "
		}
		out += s
	}
	return out
}
