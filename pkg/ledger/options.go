package ledger

import (
	"context"

	"go.uber.org/zap"
)

type settings struct {
	logger              *zap.Logger
	sink                ReceiptSink
	enforceMaxSupply    bool
	enforceTransferMemo bool
}

// Option configures the ledger.
type Option func(*settings)

// WithLogger sets a custom logger for the ledger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithReceiptSink routes transfer receipts to sink.
func WithReceiptSink(sink ReceiptSink) Option {
	return func(s *settings) { s.sink = sink }
}

// WithMaxSupplyCheck toggles the max-supply ceiling on issue. Enabled by default.
func WithMaxSupplyCheck(enabled bool) Option {
	return func(s *settings) { s.enforceMaxSupply = enabled }
}

// WithTransferMemoCheck toggles the memo length limit on transfer. Enabled by default.
func WithTransferMemoCheck(enabled bool) Option {
	return func(s *settings) { s.enforceTransferMemo = enabled }
}

func applyOptions(opts []Option) settings {
	s := settings{
		logger:              zap.NewNop(),
		sink:                nopSink{},
		enforceMaxSupply:    true,
		enforceTransferMemo: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

type nopSink struct{}

func (nopSink) Notify(context.Context, Receipt) {}

// SinkFunc adapts a function to ReceiptSink.
type SinkFunc func(ctx context.Context, r Receipt)

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, r Receipt) { f(ctx, r) }
