package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ksred/deltatrade/internal/trading"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META", "BTC"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

type options struct {
	addr    string
	trades  int
	workers int
	pace    time.Duration
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "simulation",
		Short:        "Drive random trades against a running deltatrade server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "http://localhost:8080", "server base URL")
	cmd.Flags().IntVar(&opts.trades, "trades", 50, "number of buy/sell round trips")
	cmd.Flags().IntVar(&opts.workers, "workers", 5, "concurrent workers")
	cmd.Flags().DurationVar(&opts.pace, "pace", 650*time.Millisecond, "minimum gap between requests")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type summary struct {
	mu       sync.Mutex
	bought   int
	sold     int
	failed   int
	realized decimal.Decimal
}

func run(ctx context.Context, opts options) error {
	client, err := newSimulationClient(ctx, opts.addr, opts.pace)
	if err != nil {
		return err
	}

	start := time.Now()
	log.Info().Int("trades", opts.trades).Int("workers", opts.workers).Msg("Starting simulation")

	jobs := make(chan int)
	var sum summary
	var wg sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				roundTrip(ctx, workerID, client, &sum)
			}
		}(i)
	}

feed:
	for i := 0; i < opts.trades; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	portfolio, err := client.getPortfolio(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch portfolio")
	}

	event := log.Info().
		Dur("duration", time.Since(start)).
		Int("bought", sum.bought).
		Int("sold", sum.sold).
		Int("failed", sum.failed).
		Str("realized_pnl", sum.realized.StringFixed(2))
	if portfolio != nil {
		event = event.
			Str("cash_balance", portfolio.CashBalance.StringFixed(2)).
			Str("net_worth", portfolio.NetWorth.StringFixed(2)).
			Int("positions", len(portfolio.Positions))
	}
	event.Msg("Simulation complete")

	printPerformanceStats(client.stats())
	return nil
}

// roundTrip buys a random quantity with exit levels around the fill and
// sells part of it straight back. Unsold shares are left for the monitor.
func roundTrip(ctx context.Context, workerID int, client *simulationClient, sum *summary) {
	logger := log.With().Int("worker", workerID).Logger()
	symbol := symbols[rand.IntN(len(symbols))]
	qty := int64(rand.IntN(5) + 1)

	bought, err := client.buyOrder(ctx, trading.TradeRequest{Symbol: symbol, Quantity: qty})
	if err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("Buy failed")
		sum.add(func(s *summary) { s.failed++ })
		return
	}
	sum.add(func(s *summary) { s.bought++ })

	// Place a second, instructed buy so the monitor has work.
	target := bought.ExecutionPrice.Mul(decimal.NewFromFloat(1.001)).Round(2)
	stop := bought.ExecutionPrice.Mul(decimal.NewFromFloat(0.999)).Round(2)
	if _, err := client.buyOrder(ctx, trading.TradeRequest{
		Symbol:      symbol,
		Quantity:    1,
		TargetPrice: &target,
		StopLoss:    &stop,
	}); err != nil {
		logger.Warn().Err(err).Str("symbol", symbol).Msg("Instructed buy failed")
	}

	sold, err := client.sellOrder(ctx, trading.TradeRequest{Symbol: symbol, Quantity: qty})
	if err != nil {
		logger.Error().Err(err).Str("symbol", symbol).Msg("Sell failed")
		sum.add(func(s *summary) { s.failed++ })
		return
	}
	sum.add(func(s *summary) {
		s.sold++
		if sold.RealizedPnl != nil {
			s.realized = s.realized.Add(*sold.RealizedPnl)
		}
	})

	logger.Info().
		Str("symbol", symbol).
		Int64("quantity", qty).
		Str("buy_price", bought.ExecutionPrice.StringFixed(2)).
		Str("sell_price", sold.ExecutionPrice.StringFixed(2)).
		Msg("Round trip complete")
}

func (s *summary) add(fn func(*summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}
