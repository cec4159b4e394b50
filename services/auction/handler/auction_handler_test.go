package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"
	"auction-engine/services/auction/helpers"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type decimalMatcher struct{ want decimal.Decimal }

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string { return "is decimal " + m.want.String() }

func decEq(v string) gomock.Matcher { return decimalMatcher{decimal.RequireFromString(v)} }

func liveAuction() models.Auction {
	return models.Auction{
		ID:           "a1",
		ListingID:    "listing1",
		SellerID:     "seller",
		StartAt:      now,
		EndAt:        now.Add(time.Hour),
		MinBid:       decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(10),
		Status:       models.StatusLive,
		Version:      2,
	}
}

// newRouter wires one handler route, optionally behind a fake authenticated subject
func newRouter(t *testing.T, method, path string, subject string, register func(h *AuctionHandler) gin.HandlerFunc) (*MockAuctionServiceInterface, *gin.Engine) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockService := NewMockAuctionServiceInterface(ctrl)
	h := NewAuctionHandler(mockService)

	// Initialize Gin in test mode
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if subject != "" {
		router.Use(func(c *gin.Context) {
			c.Set(helpers.ContextUserKey, subject)
			c.Next()
		})
	}
	router.Handle(method, path, register(h))
	return mockService, router
}

func doRequest(t *testing.T, router *gin.Engine, method, url string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestPlaceBidHandler(t *testing.T) {
	accepted := liveAuction()
	accepted.CurrentBid = decimal.NewFromInt(150)
	accepted.CurrentBidderID = "user1"
	accepted.BidCount = 1

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
		validate       func(t *testing.T, w *httptest.ResponseRecorder, resp map[string]any)
	}{
		{
			name:        "success_valid_bid",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", decEq("150")).Return(accepted, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid accepted",
			validate: func(t *testing.T, _ *httptest.ResponseRecorder, resp map[string]any) {
				data := resp["data"].(map[string]any)
				require.Equal(t, "a1", data["auction_id"])
				require.Equal(t, "150", data["current_bid"])
				require.Equal(t, "user1", data["current_bidder_id"])
				require.Equal(t, "160", data["next_minimum_bid"])
				require.Equal(t, "live", data["status"])
			},
		},
		{
			name:        "string_amount_keeps_precision",
			requestBody: `{"bidder_id":"user1","amount":"150.25"}`,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", decEq("150.25")).Return(accepted, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid accepted",
		},
		{
			name:           "invalid_json",
			requestBody:    `{invalid json}`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "service_invalid_bid",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 0},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrInvalidBid)
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid bid details",
		},
		{
			name:        "service_bid_too_low",
			requestBody: map[string]any{"bidder_id": "user2", "amount": 105},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user2", decEq("105")).Return(models.Auction{}, fmt.Errorf("service: %w", &biddingerrors.BidTooLowError{
					Amount:          decimal.NewFromInt(105),
					RequiredMinimum: decimal.NewFromInt(110),
				}))
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid amount too low",
			validate: func(t *testing.T, _ *httptest.ResponseRecorder, resp map[string]any) {
				details := resp["details"].(map[string]any)
				require.Equal(t, "110", details["required_minimum"])
			},
		},
		{
			name:        "auction_not_live",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrAuctionNotLive)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "auction is not accepting bids",
		},
		{
			name:        "self_bid",
			requestBody: map[string]any{"bidder_id": "seller", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "seller", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrSelfBidForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedMsg:    "sellers cannot bid",
		},
		{
			name:        "anonymous",
			requestBody: map[string]any{"amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrUnauthenticated)
			},
			expectedStatus: http.StatusUnauthorized,
			expectedMsg:    "authentication required",
		},
		{
			name:        "auction_busy",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrBusy)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedMsg:    "auction busy",
			validate: func(t *testing.T, w *httptest.ResponseRecorder, _ map[string]any) {
				require.Equal(t, helpers.RetryAfterSeconds, w.Header().Get("Retry-After"))
			},
		},
		{
			name:        "auction_not_found",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", gomock.Any()).Return(models.Auction{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:        "service_generic_error",
			requestBody: map[string]any{"bidder_id": "user1", "amount": 150},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", gomock.Any()).Return(models.Auction{}, errors.New("database failure"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodPost, "/auctions/:auction_id/bids", "", func(h *AuctionHandler) gin.HandlerFunc {
				return h.PlaceBidHandler
			})
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/auctions/a1/bids", tc.requestBody)

			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
			if tc.validate != nil {
				tc.validate(t, w, resp)
			}
		})
	}
}

func TestPlaceBidHandler_TokenSubject(t *testing.T) {
	register := func(h *AuctionHandler) gin.HandlerFunc { return h.PlaceBidHandler }

	t.Run("subject_fills_missing_bidder", func(t *testing.T) {
		mockService, router := newRouter(t, http.MethodPost, "/auctions/:auction_id/bids", "user9", register)
		mockService.EXPECT().PlaceBid(gomock.Any(), "a1", "user9", decEq("150")).Return(liveAuction(), nil)

		w, _ := doRequest(t, router, http.MethodPost, "/auctions/a1/bids", map[string]any{"amount": 150})
		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("mismatched_bidder_forbidden", func(t *testing.T) {
		_, router := newRouter(t, http.MethodPost, "/auctions/:auction_id/bids", "user9", register)

		w, resp := doRequest(t, router, http.MethodPost, "/auctions/a1/bids", map[string]any{"bidder_id": "user1", "amount": 150})
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Contains(t, resp["message"], "action not allowed")
	})
}

func TestCreateAuctionHandler(t *testing.T) {
	created := liveAuction()
	created.Status = models.StatusPending

	valid := map[string]any{
		"listing_id": "listing1",
		"seller_id":  "seller",
		"start_at":   now.Format(time.RFC3339),
		"end_at":     now.Add(time.Hour).Format(time.RFC3339),
		"min_bid":    "100",
	}

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:        "success",
			requestBody: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).DoAndReturn(
					func(_ any, in auction.CreateAuctionInput) (models.Auction, error) {
						if in.ListingID != "listing1" || in.SellerID != "seller" || !in.MinBid.Equal(decimal.NewFromInt(100)) || !in.EndAt.Equal(now.Add(time.Hour)) {
							return models.Auction{}, fmt.Errorf("unexpected input %+v", in)
						}
						return created, nil
					})
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "auction created successfully",
		},
		{
			name:           "missing_listing",
			requestBody:    map[string]any{"seller_id": "seller", "start_at": now, "end_at": now.Add(time.Hour)},
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "invalid_auction",
			requestBody: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(models.Auction{}, biddingerrors.ErrInvalidAuction)
			},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid auction details",
		},
		{
			name:        "unknown_listing",
			requestBody: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(models.Auction{}, biddingerrors.ErrListingNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "listing not found",
		},
		{
			name:        "not_the_seller",
			requestBody: valid,
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(models.Auction{}, biddingerrors.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedMsg:    "action not allowed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodPost, "/auctions", "", func(h *AuctionHandler) gin.HandlerFunc {
				return h.CreateAuctionHandler
			})
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/auctions", tc.requestBody)
			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
		})
	}
}

func TestCancelAuctionHandler(t *testing.T) {
	cancelled := liveAuction()
	cancelled.Status = models.StatusCancelled
	cancelled.CancelReason = "admin_override"

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:        "admin_override",
			requestBody: map[string]any{"actor_id": "admin", "override": true},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CancelAuction(gomock.Any(), "a1", "admin", true).Return(cancelled, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "auction cancelled",
		},
		{
			name:        "seller_after_bid",
			requestBody: map[string]any{"actor_id": "seller"},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CancelAuction(gomock.Any(), "a1", "seller", false).Return(models.Auction{}, biddingerrors.ErrInvalidTransition)
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "invalid auction state transition",
		},
		{
			name:        "stranger",
			requestBody: map[string]any{"actor_id": "mallory"},
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().CancelAuction(gomock.Any(), "a1", "mallory", false).Return(models.Auction{}, biddingerrors.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedMsg:    "action not allowed",
		},
		{
			name:           "invalid_json",
			requestBody:    `{"actor_id":`,
			mockSetup:      func(m *MockAuctionServiceInterface) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodPost, "/auctions/:auction_id/cancel", "", func(h *AuctionHandler) gin.HandlerFunc {
				return h.CancelAuctionHandler
			})
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodPost, "/auctions/a1/cancel", tc.requestBody)
			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
		})
	}
}

func TestGetAuctionHandler(t *testing.T) {
	register := func(h *AuctionHandler) gin.HandlerFunc { return h.GetAuctionHandler }

	t.Run("found", func(t *testing.T) {
		mockService, router := newRouter(t, http.MethodGet, "/auctions/:auction_id", "", register)
		mockService.EXPECT().GetAuction(gomock.Any(), "a1").Return(liveAuction(), nil)

		w, resp := doRequest(t, router, http.MethodGet, "/auctions/a1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := resp["data"].(map[string]any)
		require.Equal(t, "100", data["next_minimum_bid"])
		require.Equal(t, now.Add(time.Hour).Format(time.RFC3339), data["end_at"])
	})

	t.Run("missing", func(t *testing.T) {
		mockService, router := newRouter(t, http.MethodGet, "/auctions/:auction_id", "", register)
		mockService.EXPECT().GetAuction(gomock.Any(), "ghost").Return(models.Auction{}, biddingerrors.ErrAuctionNotFound)

		w, _ := doRequest(t, router, http.MethodGet, "/auctions/ghost", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetBidsByAuctionHandler(t *testing.T) {
	register := func(h *AuctionHandler) gin.HandlerFunc { return h.GetBidsByAuctionHandler }

	bids := []models.Bid{
		{BidID: "b1", AuctionID: "a1", BidderID: "user1", Amount: decimal.NewFromInt(100), PlacedAt: now, Seq: 1},
		{BidID: "b2", AuctionID: "a1", BidderID: "user2", Amount: decimal.NewFromInt(110), PlacedAt: now.Add(time.Second), Seq: 2},
	}

	tests := []struct {
		name           string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "with_bids",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetBidsForAuction(gomock.Any(), "a1").Return(bids, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name: "no_bids",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetBidsForAuction(gomock.Any(), "a1").Return([]models.Bid{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "repo_error",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetBidsForAuction(gomock.Any(), "a1").Return(nil, errors.New("db failure"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodGet, "/auctions/:auction_id/bids", "", register)
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, "/auctions/a1/bids", nil)
			require.Equal(t, tc.expectedStatus, w.Code)
			if w.Code == http.StatusOK {
				data := resp["data"].([]any)
				require.Len(t, data, tc.expectedCount)
				if tc.expectedCount > 0 {
					first := data[0].(map[string]any)
					require.Equal(t, "b1", first["bid_id"])
					require.Equal(t, "100", first["amount"])
					require.Equal(t, float64(1), first["seq"])
				}
			}
		})
	}
}

func TestGetWinningBidHandler(t *testing.T) {
	register := func(h *AuctionHandler) gin.HandlerFunc { return h.GetWinningBidHandler }

	tests := []struct {
		name           string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name: "winner",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "a1").Return(models.Bid{
					BidID: "b2", AuctionID: "a1", BidderID: "user2", Amount: decimal.NewFromInt(110), PlacedAt: now, Seq: 2,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "winning bid retrieved successfully",
		},
		{
			name: "no_bids",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "a1").Return(models.Bid{}, biddingerrors.ErrNoBids)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "no winning bid found",
		},
		{
			name: "repo_error",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetWinningBid(gomock.Any(), "a1").Return(models.Bid{}, errors.New("repo error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodGet, "/auctions/:auction_id/winning", "", register)
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, "/auctions/a1/winning", nil)
			require.Equal(t, tc.expectedStatus, w.Code)
			require.Contains(t, resp["message"], tc.expectedMsg)
		})
	}
}

func TestGetAuctionsByUserHandler(t *testing.T) {
	register := func(h *AuctionHandler) gin.HandlerFunc { return h.GetAuctionsByUserHandler }

	tests := []struct {
		name           string
		mockSetup      func(m *MockAuctionServiceInterface)
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "has_auctions",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetAuctionsByBidder(gomock.Any(), "user1").Return([]models.Auction{liveAuction()}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedCount:  1,
		},
		{
			name: "never_bid",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetAuctionsByBidder(gomock.Any(), "user1").Return(nil, biddingerrors.ErrBidderNoBids)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "repo_error",
			mockSetup: func(m *MockAuctionServiceInterface) {
				m.EXPECT().GetAuctionsByBidder(gomock.Any(), "user1").Return(nil, errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockService, router := newRouter(t, http.MethodGet, "/users/:user_id/auctions", "", register)
			tc.mockSetup(mockService)

			w, resp := doRequest(t, router, http.MethodGet, "/users/user1/auctions", nil)
			require.Equal(t, tc.expectedStatus, w.Code)
			if w.Code == http.StatusOK {
				require.Len(t, resp["data"].([]any), tc.expectedCount)
			}
		})
	}
}
