package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(bidsRejected.WithLabelValues("bid_too_low"))
	BidRejected("bid_too_low")
	require.Equal(t, before+1, testutil.ToFloat64(bidsRejected.WithLabelValues("bid_too_low")))

	before = testutil.ToFloat64(settlementAttempts.WithLabelValues("failure"))
	SettlementAttempt(false)
	require.Equal(t, before+1, testutil.ToFloat64(settlementAttempts.WithLabelValues("failure")))

	SchedulerQueueSize(7)
	require.Equal(t, 7.0, testutil.ToFloat64(schedulerQueue))
}

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	Init()
	Init() // second call must not panic

	RequestStarted()
	RequestFinished(http.MethodGet, "/auctions/:auction_id", http.StatusOK, 5*time.Millisecond)
	BidAccepted()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	require.True(t, strings.Contains(body, "auction_bids_accepted_total"))
	require.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/auctions/:auction_id",status="200"}`))
}
