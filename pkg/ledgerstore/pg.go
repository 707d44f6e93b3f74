package ledgerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

type pgTxKey struct{}

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the ledger store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

// idb returns the transaction carried by ctx, or the database handle.
func (s *pgStore) idb(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(pgTxKey{}).(bun.Tx); ok {
		return tx
	}
	return s.db
}

func (s *pgStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

func isIntegrityViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.IntegrityViolation()
}

func (s *pgStore) CreateAccount(ctx context.Context, name asset.Name) error {
	_, err := s.idb(ctx).NewInsert().
		Model(&AccountDao{Name: name.String()}).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *pgStore) AccountExists(ctx context.Context, name asset.Name) (bool, error) {
	exists, err := s.idb(ctx).NewSelect().
		Model((*AccountDao)(nil)).
		Where("name = ?", name.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check account exists: %w", err)
	}
	return exists, nil
}

func (s *pgStore) GetSupply(ctx context.Context, code string) (*ledger.Supply, error) {
	dao := new(SupplyDao)
	q := s.idb(ctx).NewSelect().
		Model(dao).
		Where("code = ?", code)
	if _, ok := ctx.Value(pgTxKey{}).(bun.Tx); ok {
		q = q.For("UPDATE")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("supply %s: %w", code, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get supply: %w", err)
	}
	return toSupply(dao), nil
}

func (s *pgStore) InsertSupply(ctx context.Context, sup *ledger.Supply) error {
	_, err := s.idb(ctx).NewInsert().
		Model(toSupplyDao(sup)).
		Exec(ctx)
	if err != nil {
		if isIntegrityViolation(err) {
			return fmt.Errorf("supply %s: %w", sup.Supply.Symbol.Code, ledger.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert supply: %w", err)
	}
	return nil
}

func (s *pgStore) UpdateSupply(ctx context.Context, sup *ledger.Supply) error {
	res, err := s.idb(ctx).NewUpdate().
		Model((*SupplyDao)(nil)).
		Set("supply = ?", sup.Supply.Amount).
		Set("max_supply = ?", sup.MaxSupply.Amount).
		Set("issuer = ?", sup.Issuer.String()).
		Set("updated_at = NOW()").
		Where("code = ?", sup.Supply.Symbol.Code).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update supply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("supply %s: %w", sup.Supply.Symbol.Code, ledger.ErrNotFound)
	}
	return nil
}

func (s *pgStore) ListSupplies(ctx context.Context) ([]*ledger.Supply, error) {
	var daos []SupplyDao
	err := s.idb(ctx).NewSelect().
		Model(&daos).
		Order("code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list supplies: %w", err)
	}
	out := make([]*ledger.Supply, len(daos))
	for i := range daos {
		out[i] = toSupply(&daos[i])
	}
	return out, nil
}

func (s *pgStore) GetBalance(ctx context.Context, owner asset.Name, code string) (*ledger.Balance, error) {
	dao := new(BalanceDao)
	q := s.idb(ctx).NewSelect().
		Model(dao).
		Where("owner = ?", owner.String()).
		Where("code = ?", code)
	if _, ok := ctx.Value(pgTxKey{}).(bun.Tx); ok {
		q = q.For("UPDATE")
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("balance %s/%s: %w", owner, code, ledger.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return toBalance(dao), nil
}

func (s *pgStore) SaveBalance(ctx context.Context, bal *ledger.Balance) error {
	_, err := s.idb(ctx).NewInsert().
		Model(toBalanceDao(bal)).
		On("CONFLICT (owner, code) DO UPDATE").
		Set("amount = EXCLUDED.amount").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (s *pgStore) DeleteBalance(ctx context.Context, owner asset.Name, code string) error {
	res, err := s.idb(ctx).NewDelete().
		Model((*BalanceDao)(nil)).
		Where("owner = ?", owner.String()).
		Where("code = ?", code).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("balance %s/%s: %w", owner, code, ledger.ErrNotFound)
	}
	return nil
}

func (s *pgStore) ListBalances(ctx context.Context, opts ...ledger.QueryOption) ([]*ledger.Balance, error) {
	options := ledger.ApplyQueryOptions(opts...)

	var daos []BalanceDao
	query := s.idb(ctx).NewSelect().Model(&daos)

	if options.Owner != nil {
		query = query.Where("owner = ?", options.Owner.String())
	}
	if options.Code != nil {
		query = query.Where("code = ?", *options.Code)
	}

	if err := query.Order("owner ASC", "code ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	out := make([]*ledger.Balance, len(daos))
	for i := range daos {
		out[i] = toBalance(&daos[i])
	}
	return out, nil
}

func (s *pgStore) GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error) {
	dao := new(SagaDao)
	err := s.idb(ctx).NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("saga %s: %w", id, saga.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get saga: %w", err)
	}
	return toSaga(dao)
}

func (s *pgStore) SaveSaga(ctx context.Context, sg *saga.Saga) error {
	_, err := s.idb(ctx).NewInsert().
		Model(toSagaDao(sg)).
		On("CONFLICT (id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("snapshot_before = EXCLUDED.snapshot_before").
		Set("minted = EXCLUDED.minted").
		Set("payout = EXCLUDED.payout").
		Set("failed_at = EXCLUDED.failed_at").
		Set("error = EXCLUDED.error").
		Set("attempts = EXCLUDED.attempts").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save saga: %w", err)
	}
	return nil
}

func (s *pgStore) ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error) {
	var daos []SagaDao
	query := s.idb(ctx).NewSelect().Model(&daos)

	if f.Kind != "" {
		query = query.Where("kind = ?", string(f.Kind))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		query = query.Where("state IN (?)", bun.In(states))
	}
	if !f.UpdatedBefore.IsZero() {
		query = query.Where("updated_at < ?", f.UpdatedBefore)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	if err := query.Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	out := make([]*saga.Saga, 0, len(daos))
	for i := range daos {
		sg, err := toSaga(&daos[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, nil
}
