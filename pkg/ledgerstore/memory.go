package ledgerstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

type balanceKey struct {
	owner asset.Name
	code  string
}

type memState struct {
	accounts map[asset.Name]struct{}
	supplies map[string]ledger.Supply
	balances map[balanceKey]ledger.Balance
	sagas    map[uuid.UUID]saga.Saga
}

func newMemState() *memState {
	return &memState{
		accounts: make(map[asset.Name]struct{}),
		supplies: make(map[string]ledger.Supply),
		balances: make(map[balanceKey]ledger.Balance),
		sagas:    make(map[uuid.UUID]saga.Saga),
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.accounts {
		c.accounts[k] = v
	}
	for k, v := range m.supplies {
		c.supplies[k] = v
	}
	for k, v := range m.balances {
		c.balances[k] = v
	}
	for k, v := range m.sagas {
		c.sagas[k] = v
	}
	return c
}

type memTxKey struct{}

type memTx struct {
	owner *MemoryStore
	state *memState
}

// MemoryStore is an in-process store with snapshot transactions.
// Writers are serialized; a transaction works on a private copy of the
// state that replaces the committed state when fn succeeds.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// RunInTx runs fn in a transaction, joining the one carried by ctx if any.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	tx := &memTx{owner: s, state: work}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok || tx.owner != s {
		return nil
	}
	return tx
}

func (s *MemoryStore) read(ctx context.Context, fn func(st *memState)) {
	if tx := s.txFrom(ctx); tx != nil {
		fn(tx.state)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

func (s *MemoryStore) write(ctx context.Context, fn func(st *memState) error) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		return fn(s.txFrom(ctx).state)
	})
}

func (s *MemoryStore) CreateAccount(ctx context.Context, name asset.Name) error {
	return s.write(ctx, func(st *memState) error {
		st.accounts[name] = struct{}{}
		return nil
	})
}

func (s *MemoryStore) AccountExists(ctx context.Context, name asset.Name) (bool, error) {
	var ok bool
	s.read(ctx, func(st *memState) {
		_, ok = st.accounts[name]
	})
	return ok, nil
}

func (s *MemoryStore) GetSupply(ctx context.Context, code string) (*ledger.Supply, error) {
	var (
		sup ledger.Supply
		ok  bool
	)
	s.read(ctx, func(st *memState) {
		sup, ok = st.supplies[code]
	})
	if !ok {
		return nil, fmt.Errorf("supply %s: %w", code, ledger.ErrNotFound)
	}
	return &sup, nil
}

func (s *MemoryStore) InsertSupply(ctx context.Context, sup *ledger.Supply) error {
	return s.write(ctx, func(st *memState) error {
		code := sup.Supply.Symbol.Code
		if _, ok := st.supplies[code]; ok {
			return fmt.Errorf("supply %s: %w", code, ledger.ErrAlreadyExists)
		}
		st.supplies[code] = *sup
		return nil
	})
}

func (s *MemoryStore) UpdateSupply(ctx context.Context, sup *ledger.Supply) error {
	return s.write(ctx, func(st *memState) error {
		code := sup.Supply.Symbol.Code
		if _, ok := st.supplies[code]; !ok {
			return fmt.Errorf("supply %s: %w", code, ledger.ErrNotFound)
		}
		st.supplies[code] = *sup
		return nil
	})
}

func (s *MemoryStore) ListSupplies(ctx context.Context) ([]*ledger.Supply, error) {
	var out []*ledger.Supply
	s.read(ctx, func(st *memState) {
		for _, sup := range st.supplies {
			sup := sup
			out = append(out, &sup)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Supply.Symbol.Code < out[j].Supply.Symbol.Code })
	return out, nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, owner asset.Name, code string) (*ledger.Balance, error) {
	var (
		bal ledger.Balance
		ok  bool
	)
	s.read(ctx, func(st *memState) {
		bal, ok = st.balances[balanceKey{owner: owner, code: code}]
	})
	if !ok {
		return nil, fmt.Errorf("balance %s/%s: %w", owner, code, ledger.ErrNotFound)
	}
	return &bal, nil
}

func (s *MemoryStore) SaveBalance(ctx context.Context, bal *ledger.Balance) error {
	if bal.Balance.Amount < 0 {
		return fmt.Errorf("balance %s: negative amount %s", bal.Owner, bal.Balance)
	}
	return s.write(ctx, func(st *memState) error {
		st.balances[balanceKey{owner: bal.Owner, code: bal.Balance.Symbol.Code}] = *bal
		return nil
	})
}

func (s *MemoryStore) DeleteBalance(ctx context.Context, owner asset.Name, code string) error {
	return s.write(ctx, func(st *memState) error {
		key := balanceKey{owner: owner, code: code}
		if _, ok := st.balances[key]; !ok {
			return fmt.Errorf("balance %s/%s: %w", owner, code, ledger.ErrNotFound)
		}
		delete(st.balances, key)
		return nil
	})
}

func (s *MemoryStore) ListBalances(ctx context.Context, opts ...ledger.QueryOption) ([]*ledger.Balance, error) {
	options := ledger.ApplyQueryOptions(opts...)

	var out []*ledger.Balance
	s.read(ctx, func(st *memState) {
		for key, bal := range st.balances {
			if options.Owner != nil && key.owner != *options.Owner {
				continue
			}
			if options.Code != nil && key.code != *options.Code {
				continue
			}
			bal := bal
			out = append(out, &bal)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Balance.Symbol.Code < out[j].Balance.Symbol.Code
	})
	return out, nil
}

func (s *MemoryStore) GetSaga(ctx context.Context, id uuid.UUID) (*saga.Saga, error) {
	var (
		sg saga.Saga
		ok bool
	)
	s.read(ctx, func(st *memState) {
		sg, ok = st.sagas[id]
	})
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", id, saga.ErrNotFound)
	}
	return &sg, nil
}

func (s *MemoryStore) SaveSaga(ctx context.Context, sg *saga.Saga) error {
	return s.write(ctx, func(st *memState) error {
		st.sagas[sg.ID] = *sg
		return nil
	})
}

func (s *MemoryStore) ListSagas(ctx context.Context, f saga.Filter) ([]*saga.Saga, error) {
	var out []*saga.Saga
	s.read(ctx, func(st *memState) {
		for _, sg := range st.sagas {
			sg := sg
			if f.Matches(&sg) {
				out = append(out, &sg)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
