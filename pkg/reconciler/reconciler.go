package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
)

// Violation kinds.
const (
	KindSupplyMismatch    = "supply_mismatch"
	KindMaxSupplyExceeded = "max_supply_exceeded"
	KindOrphanBalance     = "orphan_balance"
)

// Store provides read access to supplies and balances.
type Store interface {
	ListSupplies(ctx context.Context) ([]*ledger.Supply, error)
	ListBalances(ctx context.Context, opts ...ledger.QueryOption) ([]*ledger.Balance, error)
}

// Violation is a symbol whose balances and supply are out of step.
type Violation struct {
	Code     string
	Kind     string
	Supply   decimal.Decimal
	Balances decimal.Decimal
	Max      decimal.Decimal
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Symbols    int
	Balances   int
	Violations []Violation
}

// Reconciler checks that the balances of every symbol add up to its supply
// and that no supply exceeds its maximum.
type Reconciler struct {
	store  Store
	logger *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new Reconciler
func New(store Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// ReconcileAll compares every supply record against the sum of its balances.
// Violations are logged and counted; they do not make the call fail.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	start := time.Now()

	supplies, err := r.store.ListSupplies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplies: %w", err)
	}
	balances, err := r.store.ListBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	totals := make(map[string]decimal.Decimal)
	for _, b := range balances {
		code := b.Balance.Symbol.Code
		totals[code] = totals[code].Add(b.Balance.Decimal())
	}

	report := &Report{Symbols: len(supplies), Balances: len(balances)}
	known := make(map[string]struct{}, len(supplies))
	for _, s := range supplies {
		code := s.Supply.Symbol.Code
		known[code] = struct{}{}

		supply := s.Supply.Decimal()
		maxSupply := s.MaxSupply.Decimal()
		total := totals[code]
		metrics.Supply.WithLabelValues(code).Set(supply.InexactFloat64())

		if !total.Equal(supply) {
			report.Violations = append(report.Violations, Violation{
				Code: code, Kind: KindSupplyMismatch, Supply: supply, Balances: total, Max: maxSupply,
			})
		}
		if supply.GreaterThan(maxSupply) {
			report.Violations = append(report.Violations, Violation{
				Code: code, Kind: KindMaxSupplyExceeded, Supply: supply, Balances: total, Max: maxSupply,
			})
		}
	}
	for code, total := range totals {
		if _, ok := known[code]; !ok {
			report.Violations = append(report.Violations, Violation{
				Code: code, Kind: KindOrphanBalance, Balances: total,
			})
		}
	}

	for _, v := range report.Violations {
		metrics.InvariantViolations.WithLabelValues(v.Code, v.Kind).Inc()
		r.logger.Error("Supply invariant violated",
			zap.String("code", v.Code),
			zap.String("kind", v.Kind),
			zap.String("supply", v.Supply.String()),
			zap.String("balances", v.Balances.String()),
			zap.String("max_supply", v.Max.String()))
	}

	r.logger.Info("Supply reconciliation completed",
		zap.Int("symbols", report.Symbols),
		zap.Int("balances", report.Balances),
		zap.Int("violations", len(report.Violations)),
		zap.Duration("duration", time.Since(start)))

	return report, nil
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically
func (r *Reconciler) StartPeriodicReconciliation(interval, timeout time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Started periodic reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				if _, err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("Periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("Stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
