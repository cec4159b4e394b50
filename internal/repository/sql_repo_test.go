package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var auctionCols = []string{
	"id", "listing_id", "seller_id", "start_at", "end_at", "min_bid", "bid_increment",
	"current_bid", "current_bidder_id", "bid_count", "status", "version", "settled", "cancel_reason",
	"created_at", "updated_at",
}

var bidCols = []string{"id", "auction_id", "seq", "bidder_id", "amount", "placed_at"}

func newMockRepo(t *testing.T) (*SQLRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLRepo(db), mock
}

func TestSQLRepo_EnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS auctions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS auctions_status_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS bids").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS bids_bidder_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_GetAuction(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(`select (.+) from auctions where id = \$1`).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(
			"a1", "l1", "seller1", baseTime, baseTime.Add(time.Hour), "100", "10",
			"120", "user2", int64(2), "live", int64(3), false, "",
			baseTime, baseTime,
		))

	a, err := repo.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.StatusLive, a.Status)
	require.Equal(t, uint64(3), a.Version)
	require.Equal(t, 2, a.BidCount)
	require.True(t, a.CurrentBid.Equal(decimal.NewFromInt(120)))
	require.True(t, a.MinBid.Equal(decimal.NewFromInt(100)))
	require.Equal(t, baseTime.Add(time.Hour), a.EndAt)

	mock.ExpectQuery(`select (.+) from auctions where id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(auctionCols))

	_, err = repo.GetAuction(ctx, "ghost")
	require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound))

	mock.ExpectQuery(`select (.+) from auctions where id = \$1`).
		WithArgs("a9").
		WillReturnRows(sqlmock.NewRows(auctionCols).AddRow(
			"a9", "l1", "seller1", baseTime, baseTime.Add(time.Hour), "100", "10",
			"0", "", int64(0), "paused", int64(1), false, "",
			baseTime, baseTime,
		))

	_, err = repo.GetAuction(ctx, "a9")
	require.ErrorContains(t, err, `unknown status "paused"`)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_AppendBid(t *testing.T) {
	ctx := context.Background()

	next := newAuction("a1", "seller1")
	next.CurrentBid = decimal.NewFromInt(100)
	next.CurrentBidderID = "user1"
	next.BidCount = 1
	next.Version = 2
	bid := newBid("b1", "a1", "user1", 100)

	t.Run("committed", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("update auctions").
			WithArgs(sqlmock.AnyArg(), "user1", sqlmock.AnyArg(), int64(1), int64(2), sqlmock.AnyArg(), "a1", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("insert into bids").
			WithArgs("b1", "a1", int64(1), "user1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		seq, err := repo.AppendBid(ctx, bid, next)
		require.NoError(t, err)
		require.Equal(t, uint64(1), seq)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version_moved_conflicts", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("update auctions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select 1 from auctions where id = \$1`).
			WithArgs("a1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
		mock.ExpectRollback()

		_, err := repo.AppendBid(ctx, bid, next)
		require.True(t, errors.Is(err, biddingerrors.ErrConflict), "got %v", err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing_auction", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("update auctions").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`select 1 from auctions where id = \$1`).
			WithArgs("a1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}))
		mock.ExpectRollback()

		_, err := repo.AppendBid(ctx, bid, next)
		require.True(t, errors.Is(err, biddingerrors.ErrAuctionNotFound), "got %v", err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert_fails_rolls_back", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("update auctions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("insert into bids").WillReturnError(errors.New("unique violation"))
		mock.ExpectRollback()

		_, err := repo.AppendBid(ctx, bid, next)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLRepo_UpdateAuction(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	a := newAuction("a1", "seller1")
	a.Status = model.StatusEnded
	a.Version = 5

	mock.ExpectExec("update auctions").
		WithArgs("ended", sqlmock.AnyArg(), sqlmock.AnyArg(), "", int64(0), false, "", int64(5), sqlmock.AnyArg(), "a1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateAuction(ctx, a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_HighestBid(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("select (.+) from bids").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow("b2", "a1", int64(2), "user2", "150", baseTime))

	b, err := repo.HighestBid(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "b2", b.BidID)
	require.Equal(t, uint64(2), b.Seq)
	require.True(t, b.Amount.Equal(decimal.NewFromInt(150)))

	mock.ExpectQuery("select (.+) from bids").
		WithArgs("a2").
		WillReturnRows(sqlmock.NewRows(bidCols))

	_, err = repo.HighestBid(ctx, "a2")
	require.True(t, errors.Is(err, biddingerrors.ErrNoBids))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_History_Pages(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	full := sqlmock.NewRows(bidCols)
	for i := 1; i <= historyPageSize; i++ {
		full.AddRow(fmt.Sprintf("b%d", i), "a1", int64(i), "user", fmt.Sprintf("%d", 100+i), baseTime)
	}
	mock.ExpectQuery("select (.+) from bids").
		WithArgs("a1", int64(0), int64(historyPageSize)).
		WillReturnRows(full)
	mock.ExpectQuery("select (.+) from bids").
		WithArgs("a1", int64(historyPageSize), int64(historyPageSize)).
		WillReturnRows(sqlmock.NewRows(bidCols).AddRow("b-last", "a1", int64(historyPageSize+1), "user", "999", baseTime))

	var seqs []uint64
	for b, err := range repo.History(ctx, "a1") {
		require.NoError(t, err)
		seqs = append(seqs, b.Seq)
	}
	require.Len(t, seqs, historyPageSize+1)
	require.Equal(t, uint64(historyPageSize+1), seqs[len(seqs)-1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_AuctionsByBidder(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	mock.ExpectQuery("select auction_id from bids").
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows([]string{"auction_id"}).AddRow("a1").AddRow("a2"))

	ids, err := repo.AuctionsByBidder(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "a2"}, ids)

	mock.ExpectQuery("select auction_id from bids").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"auction_id"}))

	_, err = repo.AuctionsByBidder(ctx, "nobody")
	require.True(t, errors.Is(err, biddingerrors.ErrBidderNoBids))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepo_ListActiveAuctions(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("select (.+) from auctions").
		WillReturnRows(sqlmock.NewRows(auctionCols).
			AddRow("a1", "l1", "s", baseTime, baseTime.Add(time.Hour), "100", "10", "0", "", int64(0), "pending", int64(1), false, "", baseTime, baseTime).
			AddRow("a2", "l2", "s", baseTime, baseTime.Add(time.Hour), "100", "10", "150", "u", int64(3), "ended", int64(7), false, "", baseTime, baseTime))

	active, err := repo.ListActiveAuctions(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, model.StatusPending, active[0].Status)
	require.True(t, active[1].AwaitingSettlement())
	require.NoError(t, mock.ExpectationsWereMet())
}
