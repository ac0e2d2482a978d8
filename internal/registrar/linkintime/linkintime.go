// Package linkintime queries the Link Intime (now MUFG Intime) allotment
// status service. The site exposes a company dropdown plus a per-PAN JSON
// endpoint; company names there rarely match exchange names exactly, so
// the dropdown is resolved with fuzzy matching.
package linkintime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/match"
	"allotment-engine/internal/registrar"
)

type Config struct {
	BaseURL   string // override for tests; default is the public site
	SolverKey string // captcha solver key, sent when present
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *registrar.HostLimiter
}

func New(cfg Config, limiter *registrar.HostLimiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://linkintime.co.in/initial_offer"
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

func (c *Client) Name() string { return "linkintime" }

type companyOption struct {
	ID   string `json:"company_id"`
	Name string `json:"company_name"`
}

type panResponse struct {
	Status  string `json:"status"` // "allot", "non-allot", "not-applied"
	Shares  int    `json:"allotted_shares"`
	Remarks string `json:"remarks"`
}

func (c *Client) CheckStatus(ctx context.Context, company, clientHint string, pans []string) ([]registrar.PANStatus, error) {
	companyID, ok, err := c.resolveCompany(ctx, company)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Legitimate inconclusive outcome, not a capability failure.
		out := make([]registrar.PANStatus, 0, len(pans))
		for _, pan := range pans {
			out = append(out, registrar.PANStatus{
				PAN:     pan,
				Status:  domain.StatusUnknown,
				Message: fmt.Sprintf("company %q not found on registrar", company),
			})
		}
		return out, nil
	}

	out := make([]registrar.PANStatus, 0, len(pans))
	for _, pan := range pans {
		st, err := c.checkPAN(ctx, companyID, pan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// resolveCompany matches the canonical company name against the site's
// live offering dropdown. Below the loose threshold it reports no match
// rather than guessing.
func (c *Client) resolveCompany(ctx context.Context, company string) (string, bool, error) {
	u := c.cfg.BaseURL + "/companies"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return "", false, err
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("linkintime companies: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return "", false, fmt.Errorf("linkintime companies status %d", res.StatusCode)
	}

	var opts []companyOption
	if err := json.NewDecoder(res.Body).Decode(&opts); err != nil {
		return "", false, fmt.Errorf("linkintime companies decode: %w", err)
	}

	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Name
	}
	i, ok := match.BestMatch(company, names, match.LooseThreshold)
	if !ok {
		return "", false, nil
	}
	return opts[i].ID, true, nil
}

func (c *Client) checkPAN(ctx context.Context, companyID, pan string) (registrar.PANStatus, error) {
	u := c.cfg.BaseURL + "/status"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return registrar.PANStatus{}, err
	}

	body, _ := json.Marshal(map[string]string{
		"company_id": companyID,
		"pan":        pan,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return registrar.PANStatus{}, fmt.Errorf("linkintime status pan=%s: %w", pan, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return registrar.PANStatus{}, fmt.Errorf("linkintime status %d for pan=%s", res.StatusCode, pan)
	}

	var pr panResponse
	if err := json.NewDecoder(res.Body).Decode(&pr); err != nil {
		return registrar.PANStatus{}, fmt.Errorf("linkintime decode pan=%s: %w", pan, err)
	}

	st := registrar.PANStatus{PAN: pan, Units: pr.Shares, Message: pr.Remarks}
	switch strings.ToLower(strings.TrimSpace(pr.Status)) {
	case "allot", "allotted":
		st.Status = domain.StatusAllotted
	case "non-allot", "not-allotted":
		st.Status = domain.StatusNotAllotted
	case "not-applied", "no-record":
		st.Status = domain.StatusNotApplied
	default:
		st.Status = domain.StatusUnknown
		if st.Message == "" {
			st.Message = fmt.Sprintf("unrecognized registrar status %q", pr.Status)
		}
	}
	return st, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "AllotmentEngine/1.0 (+local)")
	if c.cfg.SolverKey != "" {
		req.Header.Set("X-Solver-Key", c.cfg.SolverKey)
	}
}
