// Package kfintech queries the KFin Technologies (ex-Karvy) allotment
// status API. Unlike Link Intime, KFin keys offerings by a short client
// id rather than a dropdown, so the job's client hint is used directly
// when present.
package kfintech

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
	BaseURL   string
	SolverKey string
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *registrar.HostLimiter
}

func New(cfg Config, limiter *registrar.HostLimiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://kosmic.kfintech.com/ipostatus"
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

func (c *Client) Name() string { return "kfintech" }

type clientEntry struct {
	ClientID string `json:"clientid"`
	Name     string `json:"name"`
}

type statusEntry struct {
	PAN      string `json:"pan"`
	Alloted  string `json:"alloted"` // sic, upstream spelling
	Quantity int    `json:"quantity"`
	Remarks  string `json:"remarks"`
}

func (c *Client) CheckStatus(ctx context.Context, company, clientHint string, pans []string) ([]registrar.PANStatus, error) {
	clientID := strings.TrimSpace(clientHint)
	if clientID == "" {
		var ok bool
		var err error
		clientID, ok, err = c.resolveClient(ctx, company)
		if err != nil {
			return nil, err
		}
		if !ok {
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
	}

	u := c.cfg.BaseURL + "/query"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{
		"clientid": clientID,
		"pans":     pans,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kfintech query: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("kfintech query status %d", res.StatusCode)
	}

	var entries []statusEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("kfintech decode: %w", err)
	}

	byPAN := make(map[string]statusEntry, len(entries))
	for _, e := range entries {
		byPAN[domain.NormalizePAN(e.PAN)] = e
	}

	out := make([]registrar.PANStatus, 0, len(pans))
	for _, pan := range pans {
		e, ok := byPAN[domain.NormalizePAN(pan)]
		if !ok {
			out = append(out, registrar.PANStatus{
				PAN:     pan,
				Status:  domain.StatusNotApplied,
				Message: "no record with registrar",
			})
			continue
		}
		out = append(out, fromEntry(pan, e))
	}
	return out, nil
}

func fromEntry(pan string, e statusEntry) registrar.PANStatus {
	st := registrar.PANStatus{PAN: pan, Units: e.Quantity, Message: e.Remarks}
	switch strings.ToUpper(strings.TrimSpace(e.Alloted)) {
	case "Y", "YES", "ALLOTED", "ALLOTTED":
		st.Status = domain.StatusAllotted
	case "N", "NO":
		st.Status = domain.StatusNotAllotted
	case "NA", "NOT APPLIED":
		st.Status = domain.StatusNotApplied
	default:
		st.Status = domain.StatusUnknown
		if st.Message == "" {
			st.Message = fmt.Sprintf("unrecognized registrar status %q", e.Alloted)
		}
	}
	return st
}

func (c *Client) resolveClient(ctx context.Context, company string) (string, bool, error) {
	u := c.cfg.BaseURL + "/clients"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return "", false, err
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("kfintech clients: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return "", false, fmt.Errorf("kfintech clients status %d", res.StatusCode)
	}

	var clients []clientEntry
	if err := json.NewDecoder(res.Body).Decode(&clients); err != nil {
		return "", false, fmt.Errorf("kfintech clients decode: %w", err)
	}

	names := make([]string, len(clients))
	for i, cl := range clients {
		names[i] = cl.Name
	}
	i, ok := match.BestMatch(company, names, match.LooseThreshold)
	if !ok {
		return "", false, nil
	}
	return clients[i].ClientID, true, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "AllotmentEngine/1.0 (+local)")
	if c.cfg.SolverKey != "" {
		req.Header.Set("X-Solver-Key", c.cfg.SolverKey)
	}
}
