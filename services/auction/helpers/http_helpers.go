package helpers

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextUserKey holds the authenticated user ID set by the auth middleware.
const ContextUserKey = "auth.user_id"

// RetryAfterSeconds is advertised to clients hitting a busy auction.
const RetryAfterSeconds = "1"

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrListingNotFound):
		return http.StatusNotFound, "listing not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotLive):
		return http.StatusConflict, "auction is not accepting bids"
	case errors.Is(err, biddingerrors.ErrConflict):
		return http.StatusConflict, "auction changed concurrently, retry"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid auction state transition"
	case errors.Is(err, biddingerrors.ErrSelfBidForbidden):
		return http.StatusForbidden, "sellers cannot bid on their own auction"
	case errors.Is(err, biddingerrors.ErrForbidden):
		return http.StatusForbidden, "action not allowed"
	case errors.Is(err, biddingerrors.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, biddingerrors.ErrBusy):
		return http.StatusServiceUnavailable, "auction busy, retry later"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusOK, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrBidderNoBids):
		return http.StatusOK, "no auctions found for user"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WriteServiceError maps err to a JSON error response, attaching the
// required minimum for low bids and Retry-After for busy auctions.
func WriteServiceError(c *gin.Context, handlerName string, err error, fields map[string]any) {
	status, message := MapErrorToHTTP(err)

	var details map[string]any
	if min, ok := biddingerrors.RequiredMinimum(err); ok {
		details = map[string]any{"required_minimum": min.String()}
	}
	if errors.Is(err, biddingerrors.ErrBusy) {
		c.Header("Retry-After", RetryAfterSeconds)
	}
	utils.JSONErrorWithDetails(c, status, fmt.Errorf("%s: %w", message, err), message, details)

	if fields == nil {
		fields = map[string]any{}
	}
	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		utils.Error(handlerName+": request failed", fields)
		return
	}
	utils.Warn(handlerName+": request rejected", fields)
}

// ResolveActor returns the acting user for a request. With an authenticated
// caller the body ID must be empty or match the token subject.
func ResolveActor(c *gin.Context, bodyID string) (string, error) {
	subject := c.GetString(ContextUserKey)
	if subject == "" {
		return bodyID, nil
	}
	if bodyID != "" && bodyID != subject {
		return "", fmt.Errorf("%w - body user %s does not match token subject", biddingerrors.ErrForbidden, bodyID)
	}
	return subject, nil
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
