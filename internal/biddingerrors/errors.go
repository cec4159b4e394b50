package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrListingNotFound = errors.New("listing not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrBidderNoBids    = errors.New("bidder has not placed any bids")

	// ErrConflict means the stored auction changed between read and append.
	// Callers re-read the high bid and re-validate.
	ErrConflict = errors.New("concurrent update conflict")
)

// business logic errors
var (
	ErrInvalidBid        = errors.New("invalid bid")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrAuctionNotLive    = errors.New("auction is not live")
	ErrSelfBidForbidden  = errors.New("seller cannot bid on own auction")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrBusy              = errors.New("auction busy, retry later")
	ErrInvalidTransition = errors.New("invalid auction state transition")
	ErrForbidden         = errors.New("actor not allowed to perform this action")
	ErrUnauthenticated   = errors.New("unknown or anonymous actor")
)

// BidTooLowError carries the amount a retry must reach.
type BidTooLowError struct {
	Amount          decimal.Decimal
	RequiredMinimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: got %s, required minimum %s", ErrBidTooLow, e.Amount, e.RequiredMinimum)
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// RequiredMinimum extracts the minimum acceptable bid from err, if present.
func RequiredMinimum(err error) (decimal.Decimal, bool) {
	var low *BidTooLowError
	if errors.As(err, &low) {
		return low.RequiredMinimum, true
	}
	return decimal.Decimal{}, false
}
