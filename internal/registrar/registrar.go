// Package registrar routes scrape work to the capability that knows how
// to query a given registrar, and defines the contract those capabilities
// implement.
package registrar

import (
	"context"
	"strings"

	"allotment-engine/internal/domain"
)

// PANStatus is one per-applicant line of a registrar response.
type PANStatus struct {
	PAN     string
	Status  domain.Status
	Units   int
	Message string
}

// Capability checks allotment status for a batch of PANs against one
// registrar family. Implementations may fail outright (site down,
// timeout); per-PAN inconclusiveness is expressed as UNKNOWN instead.
type Capability interface {
	Name() string
	CheckStatus(ctx context.Context, company, clientHint string, pans []string) ([]PANStatus, error)
}

// Family is the closed set of registrar families the engine can scrape.
type Family int

const (
	FamilyLinkintime Family = iota // Link Intime / MUFG Intime
	FamilyKfintech                 // KFin Technologies / Karvy
	FamilyBigshare                 // Bigshare Services
)

func (f Family) String() string {
	switch f {
	case FamilyKfintech:
		return "kfintech"
	case FamilyBigshare:
		return "bigshare"
	default:
		return "linkintime"
	}
}

// FamilyFromHint maps a free-text registrar name to a family by
// uppercased substring match. Unrecognized or empty hints fall back to
// Link Intime, the most common registrar.
func FamilyFromHint(hint string) Family {
	h := strings.ToUpper(strings.TrimSpace(hint))
	switch {
	case strings.Contains(h, "KFIN"), strings.Contains(h, "KARVY"):
		return FamilyKfintech
	case strings.Contains(h, "BIGSHARE"):
		return FamilyBigshare
	case strings.Contains(h, "LINK"), strings.Contains(h, "INTIME"), strings.Contains(h, "MUFG"):
		return FamilyLinkintime
	default:
		return FamilyLinkintime
	}
}

// Router holds one capability per family.
type Router struct {
	caps map[Family]Capability
}

func NewRouter() *Router {
	return &Router{caps: make(map[Family]Capability)}
}

func (r *Router) Register(f Family, c Capability) {
	r.caps[f] = c
}

// Route picks the capability for a registrar hint, falling back to the
// Link Intime capability when the hinted family has none registered.
func (r *Router) Route(hint string) Capability {
	if c, ok := r.caps[FamilyFromHint(hint)]; ok {
		return c
	}
	return r.caps[FamilyLinkintime]
}
