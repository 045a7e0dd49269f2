package port

import "github.com/sitewise/stockledger/internal/core/domain"

type SiteRegistry interface {
	// Lookup returns the site for an identifier, or false if unknown.
	Lookup(id string) (domain.Site, bool)

	// All returns every registered site.
	All() []domain.Site
}
