package auction

import (
	"auction-engine/internal/biddingerrors"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// auctionLocks serializes mutations per auction. Entries are dropped once
// no goroutine holds or waits on them.
type auctionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newAuctionLocks() *auctionLocks {
	return &auctionLocks{entries: make(map[string]*lockEntry)}
}

// acquire waits at most timeout for the auction's lock. The returned func
// releases it.
func (l *auctionLocks) acquire(ctx context.Context, auctionID string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[auctionID]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[auctionID] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.drop(auctionID, e)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("service: lock auction %s: %w", auctionID, biddingerrors.ErrBusy)
		}
		return nil, err
	}

	return func() {
		e.sem.Release(1)
		l.drop(auctionID, e)
	}, nil
}

func (l *auctionLocks) drop(auctionID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, auctionID)
	}
}
