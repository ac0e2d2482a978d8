// Package bigshare scrapes the Bigshare Services allotment page. Bigshare
// has no JSON API; the status form posts back an HTML table, which is
// parsed with goquery.
package bigshare

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

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
		cfg.BaseURL = "https://ipo.bigshareonline.com"
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

func (c *Client) Name() string { return "bigshare" }

func (c *Client) CheckStatus(ctx context.Context, company, clientHint string, pans []string) ([]registrar.PANStatus, error) {
	companyValue, ok, err := c.resolveCompany(ctx, company)
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

	out := make([]registrar.PANStatus, 0, len(pans))
	for _, pan := range pans {
		st, err := c.checkPAN(ctx, companyValue, pan)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// resolveCompany scrapes the <select> of live offerings and fuzzy-matches
// the option labels.
func (c *Client) resolveCompany(ctx context.Context, company string) (string, bool, error) {
	u := c.cfg.BaseURL + "/ipo_status.html"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return "", false, err
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("bigshare page: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return "", false, fmt.Errorf("bigshare page status %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return "", false, fmt.Errorf("bigshare parse page: %w", err)
	}

	var values, names []string
	doc.Find("select#ddlCompany option").Each(func(_ int, opt *goquery.Selection) {
		v, _ := opt.Attr("value")
		v = strings.TrimSpace(v)
		name := strings.TrimSpace(opt.Text())
		if v == "" || v == "0" || name == "" {
			return
		}
		values = append(values, v)
		names = append(names, name)
	})

	i, ok := match.BestMatch(company, names, match.LooseThreshold)
	if !ok {
		return "", false, nil
	}
	return values[i], true, nil
}

func (c *Client) checkPAN(ctx context.Context, companyValue, pan string) (registrar.PANStatus, error) {
	u := c.cfg.BaseURL + "/ipo_status.html"
	if err := c.limiter.WaitURL(ctx, u); err != nil {
		return registrar.PANStatus{}, err
	}

	form := url.Values{
		"ddlCompany": {companyValue},
		"txtPan":     {pan},
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setHeaders(req)

	res, err := c.hc.Do(req)
	if err != nil {
		return registrar.PANStatus{}, fmt.Errorf("bigshare status pan=%s: %w", pan, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return registrar.PANStatus{}, fmt.Errorf("bigshare status %d for pan=%s", res.StatusCode, pan)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return registrar.PANStatus{}, fmt.Errorf("bigshare parse result pan=%s: %w", pan, err)
	}

	// Result table: | PAN | Applied | Allotted | Remarks |
	row := doc.Find("table#tblResult tbody tr").First()
	if row.Length() == 0 {
		return registrar.PANStatus{
			PAN:     pan,
			Status:  domain.StatusNotApplied,
			Message: "no record with registrar",
		}, nil
	}

	cells := row.Find("td").Map(func(_ int, td *goquery.Selection) string {
		return strings.TrimSpace(td.Text())
	})
	if len(cells) < 3 {
		return registrar.PANStatus{
			PAN:     pan,
			Status:  domain.StatusUnknown,
			Message: "registrar result table in unexpected shape",
		}, nil
	}

	allotted, _ := strconv.Atoi(cells[2])
	st := registrar.PANStatus{PAN: pan, Units: allotted}
	if len(cells) > 3 {
		st.Message = cells[3]
	}
	if allotted > 0 {
		st.Status = domain.StatusAllotted
	} else {
		st.Status = domain.StatusNotAllotted
	}
	return st, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "AllotmentEngine/1.0 (+local)")
	if c.cfg.SolverKey != "" {
		req.Header.Set("X-Solver-Key", c.cfg.SolverKey)
	}
}
