// Package site serves the public landing pages and captures their leads.
package site

import (
	"fmt"
	"sort"
	"strings"

	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/radiusdt/leadgen-analytics/internal/models"
)

// Page is one landing page and the lead magnet its form requests.
type Page struct {
	Path     string          `json:"path"`
	Type     models.LeadType `json:"type"`
	Language string          `json:"language"`
}

// DefaultPages is the built-in route map.
var DefaultPages = []Page{
	{Path: "/nl/stalen", Type: models.LeadTypeSamplePack, Language: "nl"},
	{Path: "/fr/echantillons", Type: models.LeadTypeSamplePack, Language: "fr"},
	{Path: "/nl/lookbook", Type: models.LeadTypeLookbook, Language: "nl"},
	{Path: "/fr/lookbook", Type: models.LeadTypeLookbook, Language: "fr"},
	{Path: "/nl/kortingscode", Type: models.LeadTypeDiscountCode, Language: "nl"},
	{Path: "/fr/code-promo", Type: models.LeadTypeDiscountCode, Language: "fr"},
	{Path: "/nl/trendgids", Type: models.LeadTypeTrendGuide, Language: "nl"},
	{Path: "/fr/guide-tendances", Type: models.LeadTypeTrendGuide, Language: "fr"},
}

// Pages resolves request paths to landing pages.
type Pages struct {
	byPath map[string]Page
}

// NewPages builds the route map.  Configured routes replace the defaults
// when any are given.
func NewPages(routes []config.RouteConfig) (*Pages, error) {
	pages := DefaultPages
	if len(routes) > 0 {
		pages = make([]Page, 0, len(routes))
		for _, r := range routes {
			pages = append(pages, Page{Path: r.Path, Type: models.LeadType(r.Type), Language: r.Language})
		}
	}

	p := &Pages{byPath: make(map[string]Page, len(pages))}
	for _, page := range pages {
		if !page.Type.Valid() {
			return nil, fmt.Errorf("route %s: unknown lead type %q", page.Path, page.Type)
		}
		key := normalizePath(page.Path)
		if _, dup := p.byPath[key]; dup {
			return nil, fmt.Errorf("route %s: duplicate path", page.Path)
		}
		page.Path = key
		p.byPath[key] = page
	}
	return p, nil
}

// Resolve returns the page for path, ignoring case and a trailing slash.
func (p *Pages) Resolve(path string) (Page, bool) {
	page, ok := p.byPath[normalizePath(path)]
	return page, ok
}

// All returns the pages sorted by path.
func (p *Pages) All() []Page {
	out := make([]Page, 0, len(p.byPath))
	for _, page := range p.byPath {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func normalizePath(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
