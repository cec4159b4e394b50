package settlement

//go:generate mockgen -source=settlement.go -destination=mock_settlement.go -package=settlement

import (
	"auction-engine/internal/metrics"
	"auction-engine/utils"
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Bridge hands a won auction to the order and wallet subsystems.
// Implementations must be idempotent on auctionID.
type Bridge interface {
	Settle(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) error
}

// Order is the binding sale produced by a settled auction.
type Order struct {
	OrderID   string          `json:"order_id"`
	AuctionID string          `json:"auction_id"`
	BuyerID   string          `json:"buyer_id"`
	Amount    decimal.Decimal `json:"amount"`
	HoldID    string          `json:"hold_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// MemoryBridge records orders and escrow holds in memory, one per auction.
type MemoryBridge struct {
	mu     sync.Mutex
	orders map[string]Order // key: auctionID
	calls  int
}

func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{orders: make(map[string]Order)}
}

// Settle creates the order and hold for auctionID, or does nothing if they exist.
func (b *MemoryBridge) Settle(_ context.Context, auctionID, winnerID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	if existing, ok := b.orders[auctionID]; ok {
		utils.Info("settlement: duplicate settle ignored", map[string]any{
			"auction_id": auctionID,
			"order_id":   existing.OrderID,
		})
		return nil
	}

	order := Order{
		OrderID:   utils.GenerateID(),
		AuctionID: auctionID,
		BuyerID:   winnerID,
		Amount:    amount,
		HoldID:    utils.GenerateID(),
		CreatedAt: time.Now().UTC(),
	}
	b.orders[auctionID] = order

	utils.Info("settlement: order created", map[string]any{
		"auction_id": auctionID,
		"order_id":   order.OrderID,
		"buyer_id":   winnerID,
		"amount":     amount.String(),
	})
	return nil
}

// Order returns the order created for auctionID, if any.
func (b *MemoryBridge) Order(auctionID string) (Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[auctionID]
	return o, ok
}

// Calls reports how many times Settle was invoked, duplicates included.
func (b *MemoryBridge) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// RetryingBridge retries a failing Bridge with linear backoff.
type RetryingBridge struct {
	next        Bridge
	maxAttempts int
	backoff     time.Duration
}

func NewRetryingBridge(next Bridge, maxAttempts int, backoff time.Duration) *RetryingBridge {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingBridge{next: next, maxAttempts: maxAttempts, backoff: backoff}
}

func (r *RetryingBridge) Settle(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.next.Settle(ctx, auctionID, winnerID, amount)
		metrics.SettlementAttempt(err == nil)
		if err == nil {
			return nil
		}

		utils.Warn("settlement: attempt failed", map[string]any{
			"auction_id": auctionID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if attempt == r.maxAttempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
