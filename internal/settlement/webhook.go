package settlement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// HeaderIdempotencyKey lets the receiver drop duplicate deliveries.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderSignature carries hex(HMAC-SHA256(secret, body)).
	HeaderSignature = "X-Auction-Signature"
)

// Request is the body POSTed to the order service.
type Request struct {
	AuctionID string          `json:"auction_id"`
	WinnerID  string          `json:"winner_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// WebhookBridge delivers settlements to an external order/wallet service.
type WebhookBridge struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhookBridge(url, secret string) *WebhookBridge {
	return &WebhookBridge{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (w *WebhookBridge) Settle(ctx context.Context, auctionID, winnerID string, amount decimal.Decimal) error {
	body, err := json.Marshal(Request{AuctionID: auctionID, WinnerID: winnerID, Amount: amount})
	if err != nil {
		return fmt.Errorf("settlement webhook: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("settlement webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "auction-engine-settlement/1.0")
	req.Header.Set(HeaderIdempotencyKey, auctionID)
	req.Header.Set(HeaderSignature, Sign(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("settlement webhook: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the receiver already holds an order for this auction
	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		return nil
	}
	return fmt.Errorf("settlement webhook: order service returned %d", resp.StatusCode)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
