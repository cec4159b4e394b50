package server

import (
	"auction-engine/internal/metrics"
	handler "auction-engine/services/auction/handler"
	"auction-engine/utils"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Options configures the HTTP surface.
type Options struct {
	// AuthSecret enables bearer-token auth on mutating routes when non-empty.
	AuthSecret []byte
	// RateLimitPerSecond and RateLimitBurst bound mutating requests per client IP.
	// A non-positive rate disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
	// Ready reports storage health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(auctionService handler.AuctionServiceInterface, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	// recovery runs innermost so logging and metrics see the 500 it writes
	router.Use(MetricsMiddleware)
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(gin.Recovery())          // recover from panics

	auctionHandler := handler.NewAuctionHandler(auctionService)

	var guards []gin.HandlerFunc
	if opts.RateLimitPerSecond > 0 {
		guards = append(guards, NewRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst).Middleware)
	}
	if len(opts.AuthSecret) > 0 {
		guards = append(guards, Authenticate(opts.AuthSecret))
	}
	guarded := func(h gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(guards)+1)
		chain = append(chain, guards...)
		return append(chain, h)
	}

	auctions := router.Group("/auctions")
	{
		auctions.POST("", guarded(auctionHandler.CreateAuctionHandler)...)
		auctions.GET("/:auction_id", auctionHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", guarded(auctionHandler.PlaceBidHandler)...)
		auctions.GET("/:auction_id/bids", auctionHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", auctionHandler.GetWinningBidHandler)
		auctions.POST("/:auction_id/cancel", guarded(auctionHandler.CancelAuctionHandler)...)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/auctions", auctionHandler.GetAuctionsByUserHandler)
	}

	router.GET("/healthz", healthHandler(opts.Ready))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

func healthHandler(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				utils.JSONError(c, http.StatusServiceUnavailable, err, "storage unavailable")
				return
			}
		}
		utils.JSONResponse(c, http.StatusOK, gin.H{"status": "ok"}, "healthy")
	}
}
