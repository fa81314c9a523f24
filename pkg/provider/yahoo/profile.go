package yahoo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"stockmeter/pkg/market"
	"stockmeter/pkg/provider"
)

// Profile scrapes the company profile page. The page lays out its facts as
// label/value pairs ("Sector:", "Industry:", "Full Time Employees:"), either in
// a definition list or in paired spans depending on the page revision.
func (c *Client) Profile(ctx context.Context, symbol string) (market.Profile, error) {
	u := fmt.Sprintf("%s/quote/%s/profile", c.cfg.WebURL, url.PathEscape(symbol))
	body, err := c.fetch.Get(ctx, u, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return market.Profile{}, err
	}
	return parseProfile(symbol, body)
}

func parseProfile(symbol string, body []byte) (market.Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return market.Profile{}, fmt.Errorf("parse profile page: %w", err)
	}

	p := market.Profile{Symbol: symbol, Provider: Name}
	p.Name = cleanName(doc.Find("h1").First().Text(), symbol)

	facts := make(map[string]string)
	doc.Find("dl div, dl").Each(func(_ int, s *goquery.Selection) {
		s.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			facts[label(dt.Text())] = strings.TrimSpace(dt.NextFiltered("dd").Text())
		})
	})
	doc.Find("p span").Each(func(_ int, s *goquery.Selection) {
		if next := s.Next(); next.Length() > 0 {
			if key := label(s.Text()); key != "" && facts[key] == "" {
				facts[key] = strings.TrimSpace(next.Text())
			}
		}
	})

	p.Sector = facts["sector"]
	p.Industry = facts["industry"]
	p.Employees = int(provider.Number(facts["full time employees"]))

	desc := doc.Find(`section[data-testid="description"] p`).First()
	if desc.Length() == 0 {
		desc = doc.Find("section.quote-sub-section p").First()
	}
	p.Description = strings.TrimSpace(desc.Text())

	if p.Name == "" && p.Sector == "" && p.Industry == "" {
		return market.Profile{}, provider.ErrNotFound
	}
	return p, nil
}

func label(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSpace(strings.TrimSuffix(s, ":"))
}

// cleanName drops the "(SYMBOL)" suffix from the page heading.
func cleanName(heading, symbol string) string {
	heading = strings.TrimSpace(heading)
	heading = strings.TrimSuffix(heading, "("+symbol+")")
	return strings.TrimSpace(heading)
}
