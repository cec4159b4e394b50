package listing

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"sync"
)

// Lookup gives read-only access to listings at auction-creation time.
type Lookup interface {
	Listing(ctx context.Context, listingID string) (model.Listing, error)
}

// Catalog is an in-memory Lookup.
type Catalog struct {
	mu       sync.RWMutex
	listings map[string]model.Listing
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{listings: make(map[string]model.Listing)}
}

// AddListing adds or replaces a listing
func (c *Catalog) AddListing(l model.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[l.ListingID] = l
}

// Listing returns the listing with the given ID
func (c *Catalog) Listing(_ context.Context, listingID string) (model.Listing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.listings[listingID]
	if !ok {
		return model.Listing{}, fmt.Errorf("lookup listing %s: %w", listingID, biddingerrors.ErrListingNotFound)
	}
	return l, nil
}
