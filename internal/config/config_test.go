package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Queue.Workers == 0 || cfg.Sweep.WindowDays == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestNormalizeAndValidate(t *testing.T) {
	t.Run("no registrar enabled is an error", func(t *testing.T) {
		var cfg Config
		_, vr := NormalizeAndValidate(cfg)
		if vr.OK() {
			t.Fatal("expected a validation error with every family disabled")
		}
	})

	t.Run("aggressive scraping warns", func(t *testing.T) {
		cfg := Default()
		cfg.Scrape.RequestsPerSec = 50
		out, vr := NormalizeAndValidate(cfg)
		if !vr.OK() {
			t.Fatalf("unexpected errors: %v", vr.Errors)
		}
		if len(vr.Warnings) == 0 {
			t.Fatal("expected a politeness warning")
		}
		if out.Scrape.RequestsPerSec != 50 {
			t.Fatal("normalize must not silently change explicit values")
		}
	})
}

func TestEnsureUserConfigSynthesizesDefault(t *testing.T) {
	dir := t.TempDir()

	path, err := EnsureUserConfig(dir, filepath.Join(dir, "no-such-default.yml"))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load synthesized config: %v", err)
	}
	if !cfg.Scrape.Linkintime.Enabled {
		t.Fatal("synthesized config must enable the fallback family")
	}

	// second call is idempotent
	again, err := EnsureUserConfig(dir, filepath.Join(dir, "no-such-default.yml"))
	if err != nil || again != path {
		t.Fatalf("second bootstrap: path=%s err=%v", again, err)
	}
}

func TestSaveAtomicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	cfg := Default()
	cfg.App.Port = 40001
	cfg.Scrape.Kfintech.BaseURL = "https://mirror.example.com/ipostatus"

	if err := SaveAtomic(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.App.Port != 40001 || got.Scrape.Kfintech.BaseURL != cfg.Scrape.Kfintech.BaseURL {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// saving again keeps a .bak of the previous version
	cfg.App.Port = 40002
	if err := SaveAtomic(path, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("no backup written: %v", err)
	}
}

func TestOverlayRegistrars(t *testing.T) {
	dir := t.TempDir()
	overlay := filepath.Join(dir, "registrars.yml")
	content := []byte("scrape:\n  linkintime:\n    base_url: https://in.mpms.mufg.com/initial_offer\n")
	if err := os.WriteFile(overlay, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := OverlayRegistrars(&cfg, overlay); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if cfg.Scrape.Linkintime.BaseURL != "https://in.mpms.mufg.com/initial_offer" {
		t.Fatalf("overlay not applied: %+v", cfg.Scrape.Linkintime)
	}
	if cfg.Scrape.Kfintech.BaseURL != "" {
		t.Fatal("overlay must not touch families it does not mention")
	}

	// missing file is not an error
	if err := OverlayRegistrars(&cfg, filepath.Join(dir, "absent.yml")); err != nil {
		t.Fatalf("missing overlay file: %v", err)
	}
}
