// Package pipeline converts between the base asset and the wrapped asset.
//
// A mint starts when the base asset reaches the ledger account: the deposit
// is staked externally and the growth of the external stake balance is
// issued and sent to the depositor. A redeem starts when the wrapped asset is
// sent to the ledger account: it is retired, unstaked externally and the
// withdrawn base asset is paid out to the sender.
//
// Each conversion is a saga persisted after every externally visible step.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/external"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

const tracerName = "github.com/chainsafe/liquid-stake/pkg/pipeline"

// Memos attached to the ledger operations of the pipeline.
const (
	MemoMint    = "mint new tokens"
	MemoDeliver = "transfer new tokens to recipient"
	MemoRedeem  = "redeem staked tokens"
	MemoRefund  = "refund failed redeem"
)

var (
	// ErrStakeDidNotIncrease is returned when staking a deposit left the external stake balance unchanged.
	ErrStakeDidNotIncrease = errors.New("stake balance did not increase")
	// ErrNoWithdrawableFunds is returned when the external fund balance is missing or empty at payout time.
	ErrNoWithdrawableFunds = errors.New("no withdrawable funds found")
	// ErrStakeOutcomeUnknown is returned when a mint stopped before its stake
	// growth was recorded and needs operator review.
	ErrStakeOutcomeUnknown = errors.New("stake outcome unknown")
)

// IsRejection reports whether err means the external system did not behave as expected.
func IsRejection(err error) bool {
	return errors.Is(err, ErrStakeDidNotIncrease) || errors.Is(err, ErrNoWithdrawableFunds)
}

// Ledger is the subset of the ledger facade the pipeline drives.
type Ledger interface {
	Issue(ctx context.Context, caller ledger.Caller, to asset.Name, quantity asset.Asset, memo string) error
	Retire(ctx context.Context, caller ledger.Caller, quantity asset.Asset, memo string) error
	Transfer(ctx context.Context, caller ledger.Caller, from, to asset.Name, quantity asset.Asset, memo string) error
}

// SagaStore persists sagas and registers the accounts met on the base
// ledger. Calls made with a context returned by RunInTx join that transaction.
type SagaStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateAccount(ctx context.Context, name asset.Name) error
	GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error)
	SaveSaga(ctx context.Context, s *saga.Saga) error
	ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error)
}

// Config names the accounts and symbols the pipeline works with.
type Config struct {
	Self          asset.Name
	BaseSymbol    asset.Symbol
	WrappedSymbol asset.Symbol
}

// Pipeline runs mint and redeem sagas.
type Pipeline struct {
	self       asset.Name
	baseSym    asset.Symbol
	wrappedSym asset.Symbol

	ledger  Ledger
	staking external.Staking
	base    external.BaseLedger
	sagas   SagaStore
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the time source used to stamp sagas.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(
	cfg Config,
	l Ledger,
	staking external.Staking,
	base external.BaseLedger,
	sagas SagaStore,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		self:       cfg.Self,
		baseSym:    cfg.BaseSymbol,
		wrappedSym: cfg.WrappedSymbol,
		ledger:     l,
		staking:    staking,
		base:       base,
		sagas:      sagas,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Self returns the ledger account the pipeline converts for.
func (p *Pipeline) Self() asset.Name { return p.self }

// StakingAccount returns the account of the external staking service.
func (p *Pipeline) StakingAccount() asset.Name { return p.staking.Account() }

func (p *Pipeline) selfCaller() ledger.Caller {
	return ledger.NewCaller(p.self)
}

// save persists s. The transition is reported once the transaction commits.
func (p *Pipeline) save(ctx context.Context, s *saga.Saga) error {
	if err := p.sagas.SaveSaga(ctx, s); err != nil {
		return err
	}
	id, kind, state, beneficiary := s.ID, s.Kind, s.State, s.Beneficiary
	dispatch.AfterCommit(ctx, func(context.Context) {
		metrics.SagaTransitions.WithLabelValues(string(kind), string(state)).Inc()
		p.logger.Info("Saga transition",
			zap.String("saga_id", id.String()),
			zap.String("kind", string(kind)),
			zap.String("state", string(state)),
			zap.String("beneficiary", beneficiary.String()))
	})
	return nil
}

// advance moves s to target and persists it in the transaction carried by ctx.
func (p *Pipeline) advance(ctx context.Context, s *saga.Saga, target saga.State) error {
	if err := s.AdvanceTo(target, p.now().UTC()); err != nil {
		return err
	}
	return p.save(ctx, s)
}
