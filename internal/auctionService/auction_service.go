package auction

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	"auction-engine/internal/identity"
	"auction-engine/internal/listing"
	"auction-engine/internal/metrics"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/settlement"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the tunable bidding rules.
type Policy struct {
	// BidIncrement applies to auctions created without their own increment.
	BidIncrement decimal.Decimal
	// ExtensionWindow is the anti-snipe window: a bid accepted with less than
	// this much time left pushes EndAt to now+ExtensionWindow.
	ExtensionWindow time.Duration
	// LockTimeout bounds the wait for an auction's lock before ErrBusy.
	LockTimeout time.Duration
}

// DefaultPolicy returns increment 1, a five minute window and a two second lock wait.
func DefaultPolicy() Policy {
	return Policy{
		BidIncrement:    decimal.NewFromInt(1),
		ExtensionWindow: 5 * time.Minute,
		LockTimeout:     2 * time.Second,
	}
}

// Notifier is told when an auction's next transition time changes.
type Notifier interface {
	Schedule(auctionID string, at time.Time)
}

type noopNotifier struct{}

func (noopNotifier) Schedule(string, time.Time) {}

// CreateAuctionInput describes a new auction. A zero BidIncrement selects
// the policy default.
type CreateAuctionInput struct {
	ListingID    string
	SellerID     string
	StartAt      time.Time
	EndAt        time.Time
	MinBid       decimal.Decimal
	BidIncrement decimal.Decimal
}

// AuctionService owns auction lifecycle and bid acceptance
type AuctionService struct {
	repo      repository.AuctionDB
	listings  listing.Lookup
	directory identity.Directory
	bridge    settlement.Bridge
	clock     clock.Clock
	policy    Policy
	notifier  Notifier
	locks     *auctionLocks
}

// NewAuctionService creates a new AuctionService instance
func NewAuctionService(
	repo repository.AuctionDB,
	listings listing.Lookup,
	directory identity.Directory,
	bridge settlement.Bridge,
	clk clock.Clock,
	policy Policy,
) *AuctionService {
	return &AuctionService{
		repo:      repo,
		listings:  listings,
		directory: directory,
		bridge:    bridge,
		clock:     clk,
		policy:    policy,
		notifier:  noopNotifier{},
		locks:     newAuctionLocks(),
	}
}

// SetNotifier wires the scheduler in after construction.
func (s *AuctionService) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

// CreateAuction validates the input against the listing and stores a pending auction
func (s *AuctionService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	if strings.TrimSpace(in.ListingID) == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing listing ID", biddingerrors.ErrInvalidAuction)
	}

	seller, err := s.directory.Resolve(ctx, in.SellerID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: create auction: %w", err)
	}

	l, err := s.listings.Listing(ctx, in.ListingID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: create auction: %w", err)
	}
	if l.SellerID != seller.ID {
		return models.Auction{}, fmt.Errorf("service: %w - listing %s belongs to another seller", biddingerrors.ErrForbidden, l.ListingID)
	}

	now := s.clock.Now()
	if err := validateAuctionInput(in, l, now); err != nil {
		return models.Auction{}, err
	}

	increment := in.BidIncrement
	if increment.IsZero() {
		increment = s.policy.BidIncrement
	}

	a := models.Auction{
		ID:           utils.GenerateID(),
		ListingID:    l.ListingID,
		SellerID:     seller.ID,
		StartAt:      in.StartAt.UTC(),
		EndAt:        in.EndAt.UTC(),
		MinBid:       in.MinBid,
		BidIncrement: increment,
		Status:       models.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateAuction(ctx, a); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction for listing %s: %w", l.ListingID, err)
	}

	utils.Info("auction created", map[string]any{
		"auction_id": a.ID,
		"listing_id": a.ListingID,
		"start_at":   a.StartAt,
		"end_at":     a.EndAt,
	})
	s.notifier.Schedule(a.ID, a.StartAt)

	return a, nil
}

func validateAuctionInput(in CreateAuctionInput, l models.Listing, now time.Time) error {
	if !in.MinBid.IsPositive() {
		return fmt.Errorf("service: %w - min bid must be positive", biddingerrors.ErrInvalidAuction)
	}
	if in.MinBid.LessThan(l.StartingPrice) {
		return fmt.Errorf("service: %w - min bid %s below starting price %s", biddingerrors.ErrInvalidAuction, in.MinBid, l.StartingPrice)
	}
	if in.BidIncrement.IsNegative() {
		return fmt.Errorf("service: %w - negative bid increment", biddingerrors.ErrInvalidAuction)
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() || !in.StartAt.Before(in.EndAt) {
		return fmt.Errorf("service: %w - start must be before end", biddingerrors.ErrInvalidAuction)
	}
	if !in.EndAt.After(now) {
		return fmt.Errorf("service: %w - end time already passed", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// PlaceBid validates and records a bid, extending the auction when it
// lands inside the anti-snipe window
func (s *AuctionService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Auction, error) {
	if strings.TrimSpace(auctionID) == "" {
		return models.Auction{}, fmt.Errorf("service: %w - missing auction ID", biddingerrors.ErrInvalidBid)
	}
	if !amount.IsPositive() {
		return models.Auction{}, fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}

	bidder, err := s.directory.Resolve(ctx, bidderID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: place bid: %w", err)
	}

	release, err := s.locks.acquire(ctx, auctionID, s.policy.LockTimeout)
	if err != nil {
		metrics.BidRejected("busy")
		return models.Auction{}, err
	}
	defer release()

	// one retry after a conflict, re-validating against the fresh state
	var (
		updated  models.Auction
		extended bool
	)
	for attempt := 1; ; attempt++ {
		updated, extended, err = s.tryPlaceBid(ctx, auctionID, bidder.ID, amount)
		if err == nil || !errors.Is(err, biddingerrors.ErrConflict) || attempt == 2 {
			break
		}
		metrics.BidConflict()
		utils.Debug("bid append conflicted, re-validating", map[string]any{
			"auction_id": auctionID,
			"bidder_id":  bidder.ID,
		})
	}
	if err != nil {
		metrics.BidRejected(rejectReason(err))
		return models.Auction{}, err
	}

	metrics.BidAccepted()
	if extended {
		metrics.Extension()
		utils.Info("auction extended", map[string]any{
			"auction_id": auctionID,
			"end_at":     updated.EndAt,
		})
		s.notifier.Schedule(auctionID, updated.EndAt)
	}

	return updated, nil
}

func (s *AuctionService) tryPlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Auction, bool, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, false, fmt.Errorf("service: place bid on auction %s: %w", auctionID, err)
	}

	now := s.clock.Now()
	if a.Status != models.StatusLive || !a.AcceptsBidsAt(now) {
		return models.Auction{}, false, fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotLive, auctionID, a.Status)
	}
	if bidderID == a.SellerID {
		return models.Auction{}, false, fmt.Errorf("service: %w", biddingerrors.ErrSelfBidForbidden)
	}

	required := RequiredMinimum(a)
	if amount.LessThan(required) {
		return models.Auction{}, false, fmt.Errorf("service: auction %s: %w", auctionID, &biddingerrors.BidTooLowError{
			Amount:          amount,
			RequiredMinimum: required,
		})
	}

	bid, err := models.NewBid(utils.GenerateSortableID(now), auctionID, bidderID, amount, now)
	if err != nil {
		return models.Auction{}, false, fmt.Errorf("service: %w - %v", biddingerrors.ErrInvalidBid, err)
	}

	next := a
	next.CurrentBid = amount
	next.CurrentBidderID = bidderID
	next.BidCount++
	next.Version++
	next.UpdatedAt = now

	extended := false
	if a.EndAt.Sub(now) <= s.policy.ExtensionWindow {
		if candidate := now.Add(s.policy.ExtensionWindow); candidate.After(a.EndAt) {
			next.EndAt = candidate
			extended = true
		}
	}

	if _, err := s.repo.AppendBid(ctx, bid, next); err != nil {
		return models.Auction{}, false, fmt.Errorf("service: failed to record bid for auction %s by %s: %w", auctionID, bidderID, err)
	}

	return next, extended, nil
}

// RequiredMinimum is the lowest amount the next bid on a may carry.
func RequiredMinimum(a models.Auction) decimal.Decimal {
	if !a.HasBids() {
		return a.MinBid
	}
	return decimal.Max(a.MinBid, a.CurrentBid.Add(a.BidIncrement))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, biddingerrors.ErrAuctionNotLive):
		return "not_live"
	case errors.Is(err, biddingerrors.ErrSelfBidForbidden):
		return "self_bid"
	case errors.Is(err, biddingerrors.ErrConflict):
		return "conflict"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return "not_found"
	}
	return "error"
}

// StartAuction moves a pending auction live once its start time has come
func (s *AuctionService) StartAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	release, err := s.locks.acquire(ctx, auctionID, s.policy.LockTimeout)
	if err != nil {
		return models.Auction{}, err
	}
	defer release()

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: start auction %s: %w", auctionID, err)
	}

	switch a.Status {
	case models.StatusLive:
		return a, nil
	case models.StatusPending:
	default:
		return models.Auction{}, fmt.Errorf("service: %w - cannot start %s auction %s", biddingerrors.ErrInvalidTransition, a.Status, auctionID)
	}

	now := s.clock.Now()
	if now.Before(a.StartAt) {
		return models.Auction{}, fmt.Errorf("service: %w - auction %s starts at %s", biddingerrors.ErrInvalidTransition, auctionID, a.StartAt)
	}

	next, err := s.transition(ctx, a, models.StatusLive, now)
	if err != nil {
		return models.Auction{}, err
	}
	s.notifier.Schedule(auctionID, next.EndAt)
	return next, nil
}

// CloseAuction ends a live auction whose end time has passed and hands the
// winner to settlement. Closing an ended auction returns it unchanged.
func (s *AuctionService) CloseAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	closed, justEnded, err := s.endAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, err
	}
	if !justEnded || !closed.HasBids() {
		return closed, nil
	}

	settled, err := s.settle(ctx, closed)
	if err != nil {
		// ended stands; the scheduler retries settlement on resync
		return closed, nil
	}
	return settled, nil
}

func (s *AuctionService) endAuction(ctx context.Context, auctionID string) (models.Auction, bool, error) {
	release, err := s.locks.acquire(ctx, auctionID, s.policy.LockTimeout)
	if err != nil {
		return models.Auction{}, false, err
	}
	defer release()

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, false, fmt.Errorf("service: close auction %s: %w", auctionID, err)
	}

	switch a.Status {
	case models.StatusEnded:
		return a, false, nil
	case models.StatusLive:
	default:
		return models.Auction{}, false, fmt.Errorf("service: %w - cannot close %s auction %s", biddingerrors.ErrInvalidTransition, a.Status, auctionID)
	}

	now := s.clock.Now()
	if now.Before(a.EndAt) {
		return models.Auction{}, false, fmt.Errorf("service: %w - auction %s ends at %s", biddingerrors.ErrInvalidTransition, auctionID, a.EndAt)
	}

	next, err := s.transition(ctx, a, models.StatusEnded, now)
	if err != nil {
		return models.Auction{}, false, err
	}
	return next, true, nil
}

// CancelAuction cancels an auction that has not started for its seller or an
// admin, or a started auction for an admin. A live auction with bids also
// needs override.
func (s *AuctionService) CancelAuction(ctx context.Context, auctionID, actorID string, override bool) (models.Auction, error) {
	actor, err := s.directory.Resolve(ctx, actorID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: cancel auction: %w", err)
	}

	release, err := s.locks.acquire(ctx, auctionID, s.policy.LockTimeout)
	if err != nil {
		return models.Auction{}, err
	}
	defer release()

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: cancel auction %s: %w", auctionID, err)
	}

	isSeller := actor.ID == a.SellerID
	if !isSeller && !actor.Admin {
		return models.Auction{}, fmt.Errorf("service: %w - %s may not cancel auction %s", biddingerrors.ErrForbidden, actor.ID, auctionID)
	}

	now := s.clock.Now()

	// a pending auction past StartAt has started even if the scheduler has not run yet
	status := a.Status
	if status == models.StatusPending && !now.Before(a.StartAt) {
		status = models.StatusLive
	}

	reason := "seller"
	switch status {
	case models.StatusPending:
		if !isSeller {
			reason = "admin"
		}
	case models.StatusLive:
		if !actor.Admin {
			return models.Auction{}, fmt.Errorf("service: %w - started auction %s can only be cancelled by an admin", biddingerrors.ErrInvalidTransition, auctionID)
		}
		reason = "admin"
		if a.HasBids() {
			if !override {
				return models.Auction{}, fmt.Errorf("service: %w - auction %s has bids, override required", biddingerrors.ErrInvalidTransition, auctionID)
			}
			reason = "admin_override"
			utils.Warn("live auction with bids cancelled by admin override", map[string]any{
				"auction_id":  auctionID,
				"admin_id":    actor.ID,
				"bid_count":   a.BidCount,
				"current_bid": a.CurrentBid.String(),
			})
		}
	default:
		return models.Auction{}, fmt.Errorf("service: %w - auction %s is already %s", biddingerrors.ErrInvalidTransition, auctionID, a.Status)
	}

	a.CancelReason = reason
	return s.transition(ctx, a, models.StatusCancelled, now)
}

// transition stores a with status to. Callers hold the auction's lock.
func (s *AuctionService) transition(ctx context.Context, a models.Auction, to models.Status, now time.Time) (models.Auction, error) {
	if !a.Status.CanTransitionTo(to) {
		return models.Auction{}, fmt.Errorf("service: %w - %s to %s", biddingerrors.ErrInvalidTransition, a.Status, to)
	}

	from := a.Status
	next := a
	next.Status = to
	next.Version++
	next.UpdatedAt = now

	if err := s.repo.UpdateAuction(ctx, next); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to move auction %s to %s: %w", a.ID, to, err)
	}

	metrics.Transition(string(to))
	utils.Info("auction transitioned", map[string]any{
		"auction_id": a.ID,
		"from":       from,
		"to":         to,
		"bid_count":  next.BidCount,
	})
	return next, nil
}

// SettlePending re-drives settlement for an ended auction whose winner has
// not been confirmed. Other auctions are returned unchanged.
func (s *AuctionService) SettlePending(ctx context.Context, auctionID string) (models.Auction, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: settle auction %s: %w", auctionID, err)
	}
	if !a.AwaitingSettlement() {
		return a, nil
	}
	return s.settle(ctx, a)
}

func (s *AuctionService) settle(ctx context.Context, a models.Auction) (models.Auction, error) {
	if err := s.bridge.Settle(ctx, a.ID, a.CurrentBidderID, a.CurrentBid); err != nil {
		utils.Error("settlement failed", map[string]any{
			"auction_id": a.ID,
			"winner_id":  a.CurrentBidderID,
			"amount":     a.CurrentBid.String(),
			"error":      err.Error(),
		})
		return a, fmt.Errorf("service: settle auction %s: %w", a.ID, err)
	}

	release, err := s.locks.acquire(ctx, a.ID, s.policy.LockTimeout)
	if err != nil {
		return a, err
	}
	defer release()

	current, err := s.repo.GetAuction(ctx, a.ID)
	if err != nil {
		return a, fmt.Errorf("service: settle auction %s: %w", a.ID, err)
	}
	if current.Settled {
		return current, nil
	}

	current.Settled = true
	current.Version++
	current.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateAuction(ctx, current); err != nil {
		return a, fmt.Errorf("service: mark auction %s settled: %w", a.ID, err)
	}

	utils.Info("auction settled", map[string]any{
		"auction_id": a.ID,
		"winner_id":  current.CurrentBidderID,
		"amount":     current.CurrentBid.String(),
	})
	return current, nil
}

// Advance applies every transition that is due for the auction and returns
// when it next needs attention. A zero time means nothing is left to do.
func (s *AuctionService) Advance(ctx context.Context, auctionID string) (time.Time, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return time.Time{}, fmt.Errorf("service: advance auction %s: %w", auctionID, err)
	}

	for {
		now := s.clock.Now()
		switch a.Status {
		case models.StatusPending:
			if now.Before(a.StartAt) {
				return a.StartAt, nil
			}
			if a, err = s.StartAuction(ctx, auctionID); err != nil {
				return time.Time{}, err
			}
		case models.StatusLive:
			// EndAt is re-read here, so an extension reschedules instead of closing
			if now.Before(a.EndAt) {
				return a.EndAt, nil
			}
			if _, err = s.CloseAuction(ctx, auctionID); err != nil {
				return time.Time{}, err
			}
			return time.Time{}, nil
		case models.StatusEnded:
			if a.AwaitingSettlement() {
				_, err = s.SettlePending(ctx, auctionID)
			}
			return time.Time{}, err
		default:
			return time.Time{}, nil
		}
	}
}

// GetAuction returns the current snapshot of an auction
func (s *AuctionService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if strings.TrimSpace(auctionID) == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// BidHistory streams the bids of an auction in placement order
func (s *AuctionService) BidHistory(ctx context.Context, auctionID string) iter.Seq2[models.Bid, error] {
	return s.repo.History(ctx, auctionID)
}

// GetBidsForAuction returns all bids for a specific auction
func (s *AuctionService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if strings.TrimSpace(auctionID) == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	bids := make([]models.Bid, 0)
	for b, err := range s.BidHistory(ctx, auctionID) {
		if err != nil {
			return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	return bids, nil
}

// GetWinningBid returns the leading bid, which is the winner once ended
func (s *AuctionService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if strings.TrimSpace(auctionID) == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	bid, err := s.repo.HighestBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	return bid, nil
}

// GetAuctionsByBidder returns all auctions a user has placed bids on
func (s *AuctionService) GetAuctionsByBidder(ctx context.Context, bidderID string) ([]models.Auction, error) {
	if strings.TrimSpace(bidderID) == "" {
		return nil, fmt.Errorf("service: %w - empty bidder ID", biddingerrors.ErrInvalidBid)
	}

	ids, err := s.repo.AuctionsByBidder(ctx, bidderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for bidder %s: %w", bidderID, err)
	}

	auctions := make([]models.Auction, 0, len(ids))
	for _, id := range ids {
		a, err := s.repo.GetAuction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("service: failed to get auction %s for bidder %s: %w", id, bidderID, err)
		}
		auctions = append(auctions, a)
	}
	return auctions, nil
}
