package main

import (
	auction "auction-engine/internal/auctionService"
	"auction-engine/internal/clock"
	"auction-engine/internal/config"
	"auction-engine/internal/identity"
	"auction-engine/internal/listing"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/scheduler"
	"auction-engine/internal/server"
	"auction-engine/internal/settlement"
	"auction-engine/utils"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.Fatal("failed to load config", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.LogLevel)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, ready, closeRepo, err := openRepo(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to open storage", map[string]any{"driver": cfg.DBDriver, "error": err.Error()})
	}
	defer closeRepo()

	catalog := listing.NewCatalog()
	if cfg.SeedListings {
		prepopulateListings(catalog)
	}

	clk := clock.Real{}
	auctionSvc := auction.NewAuctionService(
		repo,
		catalog,
		identity.NewStaticDirectory(cfg.AdminIDs),
		newBridge(cfg),
		clk,
		auction.Policy{
			BidIncrement:    cfg.BidIncrement,
			ExtensionWindow: cfg.ExtensionWindow,
			LockTimeout:     cfg.LockTimeout,
		},
	)

	sched := scheduler.New(auctionSvc, repo, clk, scheduler.Config{ResyncInterval: cfg.SchedulerResync})
	auctionSvc.SetNotifier(sched)
	go sched.Run(ctx)

	if cfg.AuthSecret == "" {
		utils.Warn("AUTH_SECRET not set, request bodies name the acting user", nil)
	}

	router := server.SetupRouter(auctionSvc, server.Options{
		AuthSecret:         []byte(cfg.AuthSecret),
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		Ready:              ready,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{"addr": srv.Addr, "driver": cfg.DBDriver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("server failed", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	utils.Info("stopped", nil)
}

// openRepo returns the configured store, a readiness probe and a closer
func openRepo(ctx context.Context, cfg *config.Config) (repository.AuctionDB, func(context.Context) error, func(), error) {
	if cfg.DBDriver == "memory" {
		return repository.NewMemoryRepo(), nil, func() {}, nil
	}

	repo, err := repository.OpenSQL(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, nil, nil, err
	}
	closer := func() {
		if err := repo.Close(); err != nil {
			utils.Warn("closing storage failed", map[string]any{"error": err.Error()})
		}
	}
	return repo, repo.Ping, closer, nil
}

// newBridge posts settlements to the order service when configured, otherwise keeps them in memory
func newBridge(cfg *config.Config) settlement.Bridge {
	var bridge settlement.Bridge
	if cfg.SettlementWebhookURL != "" {
		bridge = settlement.NewWebhookBridge(cfg.SettlementWebhookURL, cfg.WebhookSecret)
	} else {
		utils.Warn("SETTLEMENT_WEBHOOK_URL not set, orders are kept in memory", nil)
		bridge = settlement.NewMemoryBridge()
	}
	return settlement.NewRetryingBridge(bridge, cfg.SettlementMaxAttempts, cfg.SettlementBackoff)
}

// prepopulateListings adds sample listings to the in-memory catalog
func prepopulateListings(catalog *listing.Catalog) {
	listings := []model.Listing{
		{ListingID: "listing1", SellerID: "seller1", Title: "title1", Description: "description1", StartingPrice: decimal.NewFromInt(100)},
		{ListingID: "listing2", SellerID: "seller1", Title: "title2", Description: "Description2", StartingPrice: decimal.NewFromInt(200)},
		{ListingID: "listing3", SellerID: "seller2", Title: "title3", Description: "Description3", StartingPrice: decimal.NewFromInt(150)},
	}

	for _, l := range listings {
		catalog.AddListing(l)
	}
}
