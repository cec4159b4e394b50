package helpers

import (
	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/models"
	"time"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs. Amounts accept JSON numbers or strings and are
// returned as strings so no precision is lost.

// Owner IDs in requests may be left out when the caller authenticates with
// a bearer token; the token subject is used instead.
type CreateAuctionRequest struct {
	ListingID    string          `json:"listing_id" binding:"required"`
	SellerID     string          `json:"seller_id"`
	StartAt      time.Time       `json:"start_at" binding:"required"`
	EndAt        time.Time       `json:"end_at" binding:"required"`
	MinBid       decimal.Decimal `json:"min_bid"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
}

type PlaceBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type CancelAuctionRequest struct {
	ActorID  string `json:"actor_id"`
	Override bool   `json:"override"`
}

type AuctionResponse struct {
	AuctionID       string          `json:"auction_id"`
	ListingID       string          `json:"listing_id"`
	SellerID        string          `json:"seller_id"`
	Status          models.Status   `json:"status"`
	StartAt         string          `json:"start_at"`
	EndAt           string          `json:"end_at"`
	MinBid          decimal.Decimal `json:"min_bid"`
	BidIncrement    decimal.Decimal `json:"bid_increment"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	CurrentBidderID string          `json:"current_bidder_id,omitempty"`
	BidCount        int             `json:"bid_count"`
	NextMinimumBid  decimal.Decimal `json:"next_minimum_bid"`
	Settled         bool            `json:"settled"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
}

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Seq       uint64          `json:"seq"`
	PlacedAt  string          `json:"placed_at"`
}

func ToAuctionResponse(a models.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:       a.ID,
		ListingID:       a.ListingID,
		SellerID:        a.SellerID,
		Status:          a.Status,
		StartAt:         a.StartAt.UTC().Format(time.RFC3339),
		EndAt:           a.EndAt.UTC().Format(time.RFC3339),
		MinBid:          a.MinBid,
		BidIncrement:    a.BidIncrement,
		CurrentBid:      a.CurrentBid,
		CurrentBidderID: a.CurrentBidderID,
		BidCount:        a.BidCount,
		NextMinimumBid:  auction.RequiredMinimum(a),
		Settled:         a.Settled,
		CancelReason:    a.CancelReason,
	}
}

func ToBidResponse(b models.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		Seq:       b.Seq,
		PlacedAt:  b.PlacedAt.UTC().Format(time.RFC3339Nano),
	}
}
