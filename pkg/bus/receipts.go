package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
)

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ReceiptSink turns ledger receipts into wrapped.receipt events. Receipts
// raised inside a unit are held until the unit's segment commits.
type ReceiptSink struct {
	origin asset.Name
	pub    Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewReceiptSink creates a sink publishing receipts of the ledger owned by origin.
func NewReceiptSink(origin asset.Name, pub Publisher, logger *zap.Logger) *ReceiptSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptSink{origin: origin, pub: pub, logger: logger, now: time.Now}
}

// Notify implements ledger.ReceiptSink.
func (s *ReceiptSink) Notify(ctx context.Context, r ledger.Receipt) {
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      TopicWrappedReceipt,
		Origin:     s.origin,
		Action:     "transfer",
		From:       r.From,
		To:         r.To,
		Quantity:   r.Quantity,
		Memo:       r.Memo,
		Account:    r.Account,
		OccurredAt: s.now().UTC(),
	}
	dispatch.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.logger.Warn("Failed to publish receipt",
				zap.String("account", ev.Account.String()),
				zap.String("quantity", ev.Quantity.String()),
				zap.Error(err))
		}
	})
}
