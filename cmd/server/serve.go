package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/deltatrade/internal/auth"
	"github.com/ksred/deltatrade/internal/config"
	"github.com/ksred/deltatrade/internal/database"
	"github.com/ksred/deltatrade/internal/events"
	"github.com/ksred/deltatrade/internal/exchange"
	"github.com/ksred/deltatrade/internal/leaderboard"
	"github.com/ksred/deltatrade/internal/marketdata"
	"github.com/ksred/deltatrade/internal/monitor"
	"github.com/ksred/deltatrade/internal/notification"
	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/trading"
	"github.com/ksred/deltatrade/internal/wallet"
	"github.com/ksred/deltatrade/pkg/keylock"
	"github.com/ksred/deltatrade/pkg/middleware"
)

// app holds the wired components of one server instance.
type app struct {
	router       *gin.Engine
	bus          *events.Bus
	market       *marketdata.Service
	synchronizer *marketdata.Synchronizer
	drift        *marketdata.Drift
	processor    *monitor.Processor
	notification *notification.Service
	leaderboard  *leaderboard.Service
}

type handlers struct {
	auth         *auth.GinHandlers
	market       *marketdata.GinHandlers
	stream       *marketdata.Stream
	trading      *trading.GinHandlers
	wallet       *wallet.GinHandlers
	notification *notification.GinHandlers
	leaderboard  *leaderboard.GinHandlers
}

// runServe wires every component, starts the background tasks and serves
// the API until SIGINT or SIGTERM.
func runServe(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Error().Err(err).Msg("Failed to initialize database")
		return err
	}

	a, err := newApp(cfg, db)
	if err != nil {
		return err
	}
	defer a.bus.Close()
	a.start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: a.router,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info().
			Str("port", cfg.Server.Port).
			Str("provider", cfg.Market.Provider).
			Int("symbols", len(a.market.Registry().Symbols())).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			zlog.Error().Err(err).Msg("listen")
			return err
		}
	case <-ctx.Done():
	}
	stop()
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	zlog.Info().Msg("Server exiting")
	return nil
}

func newApp(cfg config.Root, db *gorm.DB) (*app, error) {
	startingBalance, err := decimal.NewFromString(cfg.Accounts.StartingBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid starting balance: %w", err)
	}
	depositLimit, err := decimal.NewFromString(cfg.Accounts.DepositLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit limit: %w", err)
	}

	metrics := observability.NewMetrics()
	bus := events.NewBus()
	locks := keylock.New()

	// Market data
	registry := marketdata.NewRegistry(cfg.Market.Tickers)
	cache := marketdata.NewPriceCache(cfg.Market.HistorySize)
	source, err := quoteSource(cfg.Market)
	if err != nil {
		return nil, err
	}
	synchronizer := marketdata.NewSynchronizer(source, cache, registry.Symbols(),
		cfg.Market.BatchSize, cfg.Market.SyncInterval, cfg.Market.FetchTimeout, metrics)
	drift := marketdata.NewDrift(cache, cfg.Market.DriftBand, cfg.Market.DriftInterval, metrics)
	marketService := marketdata.NewService(registry, cache)

	// Ledger and everything that trades through it
	ledger := trading.NewDatabase(db)
	tradingService := trading.NewService(ledger, cache, registry, locks, bus, metrics)
	processor := monitor.NewProcessor(ledger, cache, tradingService, cfg.Monitor.Interval, metrics)
	walletService := wallet.NewService(wallet.NewDatabase(db), locks, depositLimit, metrics)
	notificationService := notification.NewService(notification.NewDatabase(db))
	leaderboardService := leaderboard.NewService(leaderboard.NewDatabase(db), cache, cfg.Leaderboard.SnapshotInterval, metrics)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, ledger, startingBalance)
	for _, cred := range cfg.Auth.Credentials {
		authService.RegisterAPICredentials(cred.APIKey, cred.APISecret)
	}
	if len(cfg.Auth.Credentials) == 0 && !cfg.Production() {
		zlog.Warn().Msg("No API credentials configured, registering test credentials")
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	setupRoutes(router, cfg.Auth.JWTSecret, handlers{
		auth:         auth.NewGinHandlers(authService),
		market:       marketdata.NewGinHandlers(marketService),
		stream:       marketdata.NewStream(marketService, cfg.Market.StreamInterval),
		trading:      trading.NewGinHandlers(tradingService),
		wallet:       wallet.NewGinHandlers(walletService),
		notification: notification.NewGinHandlers(notificationService),
		leaderboard:  leaderboard.NewGinHandlers(leaderboardService),
	})

	return &app{
		router:       router,
		bus:          bus,
		market:       marketService,
		synchronizer: synchronizer,
		drift:        drift,
		processor:    processor,
		notification: notificationService,
		leaderboard:  leaderboardService,
	}, nil
}

// start launches the background tasks. They stop when ctx is cancelled.
func (a *app) start(ctx context.Context) {
	go a.synchronizer.Start(ctx)
	go a.drift.Start(ctx)
	go a.processor.Start(ctx)
	go a.leaderboard.Start(ctx)
	go a.notification.Consume(ctx, a.bus.Subscribe("notifications", 256))
}

func quoteSource(cfg config.Market) (marketdata.QuoteSource, error) {
	switch cfg.Provider {
	case "finnhub":
		return marketdata.NewFinnhubClient(cfg.Finnhub)
	case "simulated":
		return exchange.NewSimulated(exchange.ReferencePrices, nil), nil
	default:
		return nil, fmt.Errorf("unsupported market provider %q", cfg.Provider)
	}
}

// setupRoutes configures all API endpoints. Auth and market data are
// public; everything tied to accounts requires a bearer token.
func setupRoutes(router *gin.Engine, jwtSecret string, h handlers) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit())
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", h.auth.GenerateTokenHandler())
		}

		market := v1.Group("/market")
		{
			market.GET("/price/:symbol", h.market.GetPriceHandler())
			market.GET("/history/:symbol", h.market.GetHistoryHandler())
			market.GET("/tickers", h.market.GetTickersHandler())
			market.GET("/stream", h.stream.StreamHandler())
		}
	}

	protected := router.Group("/api/v1")
	protected.Use(middleware.JWTAuth(jwtSecret), middleware.RateLimit())
	{
		trade := protected.Group("/trade")
		{
			trade.POST("/buy", h.trading.BuyHandler())
			trade.POST("/sell", h.trading.SellHandler())
		}

		protected.GET("/portfolio", h.trading.GetPortfolioHandler())
		protected.GET("/orders", h.trading.GetOrdersHandler())

		walletGroup := protected.Group("/wallet")
		{
			walletGroup.POST("/deposit", h.wallet.DepositHandler())
			walletGroup.POST("/withdraw", h.wallet.WithdrawHandler())
			walletGroup.GET("/transactions", h.wallet.GetHistoryHandler())
		}

		board := protected.Group("/leaderboard")
		{
			board.GET("", h.leaderboard.GlobalHandler())
			board.GET("/weekly", h.leaderboard.WeeklyHandler())
		}

		notifications := protected.Group("/notifications")
		{
			notifications.GET("", h.notification.ListHandler())
			notifications.PUT("/:id/read", h.notification.MarkReadHandler())
		}
	}
}
