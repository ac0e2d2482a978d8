package config

import (
	"fmt"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate fills sensible defaults for zero values and
// reports anything a user should fix before saving.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	// ---- Defaults ----

	if out.App.Port == 0 {
		out.App.Port = 38472
	}
	if out.Queue.Workers == 0 {
		out.Queue.Workers = 25
	}
	if out.Queue.MaxAttempts == 0 {
		out.Queue.MaxAttempts = 3
	}
	if out.Queue.KeepFailed == 0 {
		out.Queue.KeepFailed = 200
	}
	if out.Sweep.IntervalMinutes == 0 {
		out.Sweep.IntervalMinutes = 10
	}
	if out.Sweep.WindowDays == 0 {
		out.Sweep.WindowDays = 7
	}
	if out.Scrape.RequestsPerSec == 0 {
		out.Scrape.RequestsPerSec = 1.0
	}
	if out.Scrape.Burst == 0 {
		out.Scrape.Burst = 2
	}

	out.Scrape.Linkintime.BaseURL = strings.TrimSpace(out.Scrape.Linkintime.BaseURL)
	out.Scrape.Kfintech.BaseURL = strings.TrimSpace(out.Scrape.Kfintech.BaseURL)
	out.Scrape.Bigshare.BaseURL = strings.TrimSpace(out.Scrape.Bigshare.BaseURL)

	// ---- Validation rules ----

	if out.App.Port < 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}

	if !out.Scrape.Linkintime.Enabled && !out.Scrape.Kfintech.Enabled && !out.Scrape.Bigshare.Enabled {
		res.addErr("no registrar family enabled: enable linkintime, kfintech, or bigshare")
	}
	if !out.Scrape.Linkintime.Enabled {
		res.addWarn("linkintime is the fallback registrar family; with it disabled, unrecognized registrar hints cannot be resolved.")
	}

	if out.Queue.Workers > 200 {
		res.addWarn("queue.workers is very high (%d); registrar sites may rate-limit or captcha-block.", out.Queue.Workers)
	}
	if out.Scrape.RequestsPerSec > 5 {
		res.addWarn("scrape.requests_per_sec is %g; being impolite to registrars tends to end in captchas.", out.Scrape.RequestsPerSec)
	}
	if out.Sweep.IntervalMinutes < 5 {
		res.addWarn("sweep.interval_minutes is very low (%d); sweeps may overlap with queue retries.", out.Sweep.IntervalMinutes)
	}

	return out, res
}
