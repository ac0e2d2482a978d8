package domain

import (
	"strings"
	"time"
)

// Result is one cached allotment lookup, keyed uniquely by (IPOID, PAN).
type Result struct {
	IPOID       int64     `json:"ipoId"`
	PAN         string    `json:"pan"`
	Status      Status    `json:"status"`
	Units       int       `json:"units"`
	Message     string    `json:"message"`
	LastChecked time.Time `json:"lastChecked"`
}

// Fresh reports whether the row may still be served from cache at time now.
func (r Result) Fresh(now time.Time) bool {
	return now.Sub(r.LastChecked) <= r.Status.TTL()
}

// Job is one unit of scrape work. It is the sole carrier of the internal
// IPO id binding; the registrar capability never sees it.
type Job struct {
	IPOID         int64
	CompanyName   string
	PAN           string
	RegistrarHint string
	ClientID      string // registrar-specific client identifier, may be ""
}

// IPO is the read-only metadata record supplied by the surrounding system.
type IPO struct {
	ID            int64      `json:"id"`
	CompanyName   string     `json:"companyName"`
	RegistrarName string     `json:"registrarName"`
	ClientID      string     `json:"clientId,omitempty"`
	ListingDate   *time.Time `json:"listingDate,omitempty"`
	AllotmentOut  bool       `json:"allotmentOut"`
}

// NormalizePAN canonicalizes a tax-ID the way it is stored: trimmed and
// uppercased.
func NormalizePAN(pan string) string {
	return strings.ToUpper(strings.TrimSpace(pan))
}
