package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// historyPageSize bounds how many bids History holds in memory at once.
const historyPageSize = 100

const auctionColumns = `id, listing_id, seller_id, start_at, end_at, min_bid, bid_increment,
	current_bid, current_bidder_id, bid_count, status, version, settled, cancel_reason,
	created_at, updated_at`

const bidColumns = `id, auction_id, seq, bidder_id, amount, placed_at`

// SQLRepo implements AuctionDB on database/sql. Queries stick to the SQL
// subset shared by the pgx and sqlite3 drivers.
type SQLRepo struct {
	db *sql.DB
}

var _ AuctionDB = (*SQLRepo)(nil)

// OpenSQL opens a pool for driver ("pgx" or "sqlite3") and dsn.
func OpenSQL(driver, dsn string) (*SQLRepo, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY churn
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	return NewSQLRepo(db), nil
}

// NewSQLRepo wraps an existing pool.
func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *SQLRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (r *SQLRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLRepo) Close() error { return r.db.Close() }

func (r *SQLRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	_, err := r.db.ExecContext(ctx, `
		insert into auctions(`+auctionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, a.ID, a.ListingID, a.SellerID, a.StartAt.UTC(), a.EndAt.UTC(), a.MinBid, a.BidIncrement,
		a.CurrentBid, a.CurrentBidderID, a.BidCount, string(a.Status), int64(a.Version), a.Settled,
		a.CancelReason, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create auction %s: %w", a.ID, err)
	}
	return nil
}

func (r *SQLRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where id = $1`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

func (r *SQLRepo) UpdateAuction(ctx context.Context, a model.Auction) error {
	res, err := r.db.ExecContext(ctx, `
		update auctions
		set status = $1, end_at = $2, current_bid = $3, current_bidder_id = $4, bid_count = $5,
			settled = $6, cancel_reason = $7, version = $8, updated_at = $9
		where id = $10 and version = $11
	`, string(a.Status), a.EndAt.UTC(), a.CurrentBid, a.CurrentBidderID, a.BidCount,
		a.Settled, a.CancelReason, int64(a.Version), a.UpdatedAt.UTC(), a.ID, int64(a.Version)-1)
	if err != nil {
		return fmt.Errorf("update auction %s: %w", a.ID, err)
	}
	return checkApplied(ctx, r.db, res, a.ID)
}

func (r *SQLRepo) ListActiveAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+auctionColumns+`
		from auctions
		where status in ('pending', 'live')
			or (status = 'ended' and bid_count > 0 and settled = false)
		order by id asc
	`)
	if err != nil {
		return nil, fmt.Errorf("list active auctions: %w", err)
	}
	defer rows.Close()

	var res []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("list active auctions: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r *SQLRepo) AppendBid(ctx context.Context, bid model.Bid, updated model.Auction) (uint64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append bid: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// the version guard is the compare-and-swap: every accepted bid bumps it
	res, err := tx.ExecContext(ctx, `
		update auctions
		set current_bid = $1, current_bidder_id = $2, end_at = $3, bid_count = $4,
			version = $5, updated_at = $6
		where id = $7 and version = $8 and status = 'live'
	`, updated.CurrentBid, updated.CurrentBidderID, updated.EndAt.UTC(), updated.BidCount,
		int64(updated.Version), updated.UpdatedAt.UTC(), bid.AuctionID, int64(updated.Version)-1)
	if err != nil {
		return 0, fmt.Errorf("append bid for auction %s: %w", bid.AuctionID, err)
	}
	if err := checkApplied(ctx, tx, res, bid.AuctionID); err != nil {
		return 0, err
	}

	seq := uint64(updated.BidCount)
	if _, err := tx.ExecContext(ctx, `
		insert into bids(`+bidColumns+`)
		values ($1,$2,$3,$4,$5,$6)
	`, bid.BidID, bid.AuctionID, int64(seq), bid.BidderID, bid.Amount, bid.PlacedAt.UTC()); err != nil {
		return 0, fmt.Errorf("append bid for auction %s: %w", bid.AuctionID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append bid for auction %s: commit: %w", bid.AuctionID, err)
	}
	return seq, nil
}

func (r *SQLRepo) HighestBid(ctx context.Context, auctionID string) (model.Bid, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1
		order by seq desc
		limit 1
	`, auctionID)
	b, err := scanBid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

func (r *SQLRepo) History(ctx context.Context, auctionID string) iter.Seq2[model.Bid, error] {
	return func(yield func(model.Bid, error) bool) {
		var after uint64
		for {
			page, err := r.bidPage(ctx, auctionID, after)
			if err != nil {
				yield(model.Bid{}, err)
				return
			}
			for _, b := range page {
				if !yield(b, nil) {
					return
				}
				after = b.Seq
			}
			if len(page) < historyPageSize {
				return
			}
		}
	}
}

func (r *SQLRepo) bidPage(ctx context.Context, auctionID string, afterSeq uint64) ([]model.Bid, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+bidColumns+` from bids
		where auction_id = $1 and seq > $2
		order by seq asc
		limit $3
	`, auctionID, int64(afterSeq), historyPageSize)
	if err != nil {
		return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	page := make([]model.Bid, 0, historyPageSize)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("history for auction %s: %w", auctionID, err)
		}
		page = append(page, b)
	}
	return page, rows.Err()
}

func (r *SQLRepo) AuctionsByBidder(ctx context.Context, bidderID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		select auction_id from bids
		where bidder_id = $1
		group by auction_id
		order by min(seq) asc, auction_id asc
	`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("get auctions for bidder %s: %w", bidderID, biddingerrors.ErrBidderNoBids)
	}
	return ids, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkApplied turns a zero-row versioned update into ErrAuctionNotFound or ErrConflict.
func checkApplied(ctx context.Context, q rowQuerier, res sql.Result, auctionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auctionID, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `select 1 from auctions where id = $1`, auctionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return fmt.Errorf("update auction %s: %w", auctionID, biddingerrors.ErrConflict)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuction(s scanner) (model.Auction, error) {
	var (
		a       model.Auction
		status  string
		version int64
	)
	err := s.Scan(&a.ID, &a.ListingID, &a.SellerID, &a.StartAt, &a.EndAt, &a.MinBid, &a.BidIncrement,
		&a.CurrentBid, &a.CurrentBidderID, &a.BidCount, &status, &version, &a.Settled, &a.CancelReason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.Status = model.Status(status)
	if !a.Status.Valid() {
		return model.Auction{}, fmt.Errorf("auction %s has unknown status %q", a.ID, status)
	}
	a.Version = uint64(version)
	a.StartAt, a.EndAt = a.StartAt.UTC(), a.EndAt.UTC()
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return a, nil
}

func scanBid(s scanner) (model.Bid, error) {
	var (
		b   model.Bid
		seq int64
	)
	if err := s.Scan(&b.BidID, &b.AuctionID, &seq, &b.BidderID, &b.Amount, &b.PlacedAt); err != nil {
		return model.Bid{}, err
	}
	b.Seq = uint64(seq)
	b.PlacedAt = b.PlacedAt.UTC()
	return b, nil
}
