package integrationtests

import (
	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/clock"
	"auction-engine/internal/identity"
	"auction-engine/internal/listing"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/scheduler"
	"auction-engine/internal/server"
	"auction-engine/internal/settlement"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const adminID = "admin1"

// TestEnv bundles the router with the collaborators a test drives directly.
type TestEnv struct {
	Router    *gin.Engine
	Clock     *clock.Fake
	Scheduler *scheduler.Scheduler
	Bridge    *settlement.MemoryBridge
	Repo      *repository.MemoryRepo
}

// SetupTestRouter initializes the router over an in-memory repository and a fake clock.
func SetupTestRouter(t *testing.T, listings ...model.Listing) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := listing.NewCatalog()
	for _, l := range listings {
		catalog.AddListing(l)
	}

	env := &TestEnv{
		Clock:  clock.NewFake(t0),
		Bridge: settlement.NewMemoryBridge(),
		Repo:   repository.NewMemoryRepo(),
	}

	service := auction.NewAuctionService(
		env.Repo,
		catalog,
		identity.NewStaticDirectory([]string{adminID}),
		env.Bridge,
		env.Clock,
		auction.Policy{
			BidIncrement:    decimal.NewFromInt(10),
			ExtensionWindow: 5 * time.Minute,
			LockTimeout:     time.Second,
		},
	)
	env.Scheduler = scheduler.New(service, env.Repo, env.Clock, scheduler.Config{})
	service.SetNotifier(env.Scheduler)

	env.Router = server.SetupRouter(service, server.Options{})
	return env
}

// AdvanceTo moves the clock to at and runs every lifecycle transition that became due.
func (e *TestEnv) AdvanceTo(t *testing.T, at time.Time) {
	t.Helper()
	e.Clock.Set(at)
	e.Scheduler.RunDue(context.Background())
}

// CreateLiveAuction creates an auction over [t0, t0+1h) and starts it.
func (e *TestEnv) CreateLiveAuction(t *testing.T, listingID, sellerID string, minBid int64) string {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, e.Router, http.MethodPost, "/auctions", map[string]any{
		"listing_id": listingID,
		"seller_id":  sellerID,
		"start_at":   t0,
		"end_at":     t0.Add(time.Hour),
		"min_bid":    minBid,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, string(model.StatusPending), resp["status"])

	id := resp["auction_id"].(string)
	e.AdvanceTo(t, t0)
	return id
}

// ExecuteRequest executes an HTTP request and returns the response recorder.
func ExecuteRequest(t *testing.T, router *gin.Engine, method, url string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := ExecuteRequest(t, router, method, url, reqBody)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == http.StatusCreated {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}

// GetAuction fetches the auction snapshot through the API.
func GetAuction(t *testing.T, router *gin.Engine, auctionID string) map[string]any {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, router, http.MethodGet, "/auctions/"+auctionID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return resp["data"].(map[string]any)
}

// PlaceBid posts a bid and returns the parsed body and status.
func PlaceBid(t *testing.T, router *gin.Engine, auctionID, bidderID, amount string) (map[string]any, int) {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, router, http.MethodPost, "/auctions/"+auctionID+"/bids", map[string]any{
		"bidder_id": bidderID,
		"amount":    amount,
	})
	return resp, w.Code
}

func lamp() model.Listing {
	return model.Listing{
		ListingID:     "listing1",
		SellerID:      "seller1",
		Title:         "title1",
		Description:   "description1",
		StartingPrice: decimal.NewFromInt(100),
	}
}
