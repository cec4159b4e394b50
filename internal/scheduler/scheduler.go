package scheduler

//go:generate mockgen -source=scheduler.go -destination=mock_scheduler.go -package=scheduler

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/clock"
	"auction-engine/internal/metrics"
	"auction-engine/internal/models"
	"auction-engine/utils"
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// Transitioner applies whatever lifecycle step is due for an auction and
// reports when it next needs attention (zero when done).
type Transitioner interface {
	Advance(ctx context.Context, auctionID string) (time.Time, error)
}

// ActiveLister lists auctions that may still need a transition or settlement.
type ActiveLister interface {
	ListActiveAuctions(ctx context.Context) ([]models.Auction, error)
}

// Config tunes the scheduler loop.
type Config struct {
	// ResyncInterval is how often the queue is rebuilt from storage.
	ResyncInterval time.Duration
	// RetryDelay is the wait before re-running a failed transition.
	RetryDelay time.Duration
}

// Scheduler drives time-based auction transitions. Only the most recent
// Schedule call per auction counts; older heap entries are skipped.
type Scheduler struct {
	transitioner Transitioner
	store        ActiveLister
	clock        clock.Clock
	cfg          Config

	mu    sync.Mutex
	queue timerQueue
	due   map[string]time.Time
	wake  chan struct{}
}

func New(transitioner Transitioner, store ActiveLister, clk clock.Clock, cfg Config) *Scheduler {
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Scheduler{
		transitioner: transitioner,
		store:        store,
		clock:        clk,
		cfg:          cfg,
		due:          make(map[string]time.Time),
		wake:         make(chan struct{}, 1),
	}
}

// Schedule asks for auctionID to be advanced at the given time, replacing
// any earlier request. A zero time clears it.
func (s *Scheduler) Schedule(auctionID string, at time.Time) {
	s.mu.Lock()
	if at.IsZero() {
		delete(s.due, auctionID)
	} else if current, ok := s.due[auctionID]; !ok || !current.Equal(at) {
		s.due[auctionID] = at
		heap.Push(&s.queue, entry{auctionID: auctionID, at: at})
	}
	metrics.SchedulerQueueSize(len(s.due))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len reports how many auctions have a pending wake-up.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.due)
}

// Next returns the wake-up time for auctionID, if any.
func (s *Scheduler) Next(auctionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.due[auctionID]
	return at, ok
}

// Recover rebuilds the queue from storage.
func (s *Scheduler) Recover(ctx context.Context) error {
	active, err := s.store.ListActiveAuctions(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, a := range active {
		switch a.Status {
		case models.StatusPending:
			s.Schedule(a.ID, a.StartAt)
		case models.StatusLive:
			s.Schedule(a.ID, a.EndAt)
		case models.StatusEnded:
			if a.AwaitingSettlement() {
				s.Schedule(a.ID, now)
			}
		}
	}

	utils.Debug("scheduler resynced", map[string]any{"active": len(active), "queued": s.Len()})
	return nil
}

// RunDue advances every auction whose wake-up time has passed and returns
// how many were processed.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.clock.Now()
	ids := s.popDue(now)

	for _, id := range ids {
		next, err := s.transitioner.Advance(ctx, id)
		if err != nil {
			if errors.Is(err, biddingerrors.ErrAuctionNotFound) {
				utils.Warn("scheduler: dropping unknown auction", map[string]any{"auction_id": id})
				continue
			}
			utils.Error("scheduler: transition failed", map[string]any{
				"auction_id": id,
				"error":      err.Error(),
			})
			s.Schedule(id, now.Add(s.cfg.RetryDelay))
			continue
		}
		if !next.IsZero() {
			s.Schedule(id, next)
		}
	}
	return len(ids)
}

func (s *Scheduler) popDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		e := heap.Pop(&s.queue).(entry)
		if current, ok := s.due[e.auctionID]; ok && current.Equal(e.at) {
			delete(s.due, e.auctionID)
			ids = append(ids, e.auctionID)
		}
	}
	metrics.SchedulerQueueSize(len(s.due))
	return ids
}

// nextWake returns the earliest live entry, discarding stale ones.
func (s *Scheduler) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 {
		top := s.queue[0]
		if current, ok := s.due[top.auctionID]; ok && current.Equal(top.at) {
			return top.at, true
		}
		heap.Pop(&s.queue)
	}
	return time.Time{}, false
}

// Run recovers the queue and then processes wake-ups until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.Recover(ctx); err != nil {
		utils.Error("scheduler: initial recovery failed", map[string]any{"error": err.Error()})
	}

	resync := time.NewTicker(s.cfg.ResyncInterval)
	defer resync.Stop()

	utils.Info("scheduler started", map[string]any{"queued": s.Len()})
	for {
		s.RunDue(ctx)

		wait := s.cfg.ResyncInterval
		if at, ok := s.nextWake(); ok {
			if d := at.Sub(s.clock.Now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			utils.Info("scheduler stopped", nil)
			return
		case <-resync.C:
			if err := s.Recover(ctx); err != nil {
				utils.Error("scheduler: resync failed", map[string]any{"error": err.Error()})
			}
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}
