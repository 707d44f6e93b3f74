package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

const serviceName = "LedgerAPI"

// logService wraps Service with logging of the state changing calls
type logService struct {
	svc    Service
	logger *zap.Logger
}

// NewLog creates a logging decorator for the api Service.
func NewLog(svc Service, logger *zap.Logger) Service {
	return &logService{
		svc:    svc,
		logger: logger,
	}
}

func (ls *logService) done(method string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("service", serviceName),
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		ls.logger.Warn(method+" failed", append(fields, zap.Error(err))...)
		return
	}
	ls.logger.Info(method+" completed", fields...)
}

func principals(c ledger.Caller) []string {
	names := c.Principals()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	return out
}

func (ls *logService) SubmitAction(ctx context.Context, req *ActionRequest) (err error) {
	start := time.Now()
	defer func() {
		ls.done("SubmitAction", start, err,
			zap.String("call_id", req.ID),
			zap.String("action", req.Action),
			zap.Strings("caller", principals(req.Caller)),
		)
	}()
	return ls.svc.SubmitAction(ctx, req)
}

func (ls *logService) NotifyBaseTransfer(ctx context.Context, caller ledger.Caller, tr *BaseTransfer) (err error) {
	start := time.Now()
	defer func() {
		ls.done("NotifyBaseTransfer", start, err,
			zap.String("event_id", tr.ID),
			zap.String("from", tr.From.String()),
			zap.String("to", tr.To.String()),
			zap.String("quantity", tr.Quantity.String()),
		)
	}()
	return ls.svc.NotifyBaseTransfer(ctx, caller, tr)
}

func (ls *logService) CreateAccount(ctx context.Context, caller ledger.Caller, name asset.Name) (err error) {
	start := time.Now()
	defer func() {
		ls.done("CreateAccount", start, err, zap.String("account", name.String()))
	}()
	return ls.svc.CreateAccount(ctx, caller, name)
}

func (ls *logService) GetSupply(ctx context.Context, code string) (*ledger.Supply, error) {
	return ls.svc.GetSupply(ctx, code)
}

func (ls *logService) GetBalance(ctx context.Context, owner asset.Name, code string) (asset.Asset, error) {
	return ls.svc.GetBalance(ctx, owner, code)
}

func (ls *logService) GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error) {
	return ls.svc.GetSaga(ctx, id)
}

func (ls *logService) ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error) {
	return ls.svc.ListSagas(ctx, f)
}
