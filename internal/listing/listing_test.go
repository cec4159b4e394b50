package listing

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Listing(t *testing.T) {
	c := NewCatalog()
	l := model.Listing{ListingID: "l1", SellerID: "seller1", Title: "Lamp", StartingPrice: decimal.NewFromInt(50)}
	c.AddListing(l)

	got, err := c.Listing(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, l, got)

	_, err = c.Listing(context.Background(), "missing")
	require.True(t, errors.Is(err, biddingerrors.ErrListingNotFound))
}
