package config

import (
	"sort"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// StaticSiteRegistry serves the configured site list. The surrounding
// application owns site management; the ledger only needs to reject unknown
// identifiers before a transaction starts.
type StaticSiteRegistry struct {
	sites map[string]domain.Site
}

var _ port.SiteRegistry = (*StaticSiteRegistry)(nil)

func NewSiteRegistry(sites []SiteConfig) *StaticSiteRegistry {
	m := make(map[string]domain.Site, len(sites))
	for _, s := range sites {
		m[s.ID] = domain.Site{ID: s.ID, Name: s.Name}
	}
	return &StaticSiteRegistry{sites: m}
}

func (r *StaticSiteRegistry) Lookup(id string) (domain.Site, bool) {
	s, ok := r.sites[id]
	return s, ok
}

func (r *StaticSiteRegistry) All() []domain.Site {
	out := make([]domain.Site, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
