package ledgerstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainsafe/liquid-stake/pkg/asset"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/saga"
)

// AccountDao is a data access object that maps directly to the 'accounts' table in PostgreSQL.
type AccountDao struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`
	Name          string    `bun:"name,pk,type:varchar(64)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// SupplyDao is a data access object that maps directly to the 'supplies' table in PostgreSQL.
type SupplyDao struct {
	bun.BaseModel `bun:"table:supplies,alias:s"`
	Code          string    `bun:"code,pk,type:varchar(7)"`
	Precision     uint8     `bun:"precision,notnull,type:smallint"`
	Supply        int64     `bun:"supply,notnull,type:bigint"`
	MaxSupply     int64     `bun:"max_supply,notnull,type:bigint"`
	Issuer        string    `bun:"issuer,notnull,type:varchar(64)"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// BalanceDao is a data access object that maps directly to the 'balances' table in PostgreSQL.
type BalanceDao struct {
	bun.BaseModel `bun:"table:balances,alias:b"`
	Owner         string    `bun:"owner,pk,type:varchar(64)"`
	Code          string    `bun:"code,pk,type:varchar(7)"`
	Precision     uint8     `bun:"precision,notnull,type:smallint"`
	Amount        int64     `bun:"amount,notnull,type:bigint"`
	Payer         string    `bun:"payer,notnull,type:varchar(64)"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// SagaDao is a data access object that maps directly to the 'sagas' table in PostgreSQL.
type SagaDao struct {
	bun.BaseModel  `bun:"table:sagas,alias:sg"`
	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	Kind           string    `bun:"kind,notnull,type:varchar(16)"`
	State          string    `bun:"state,notnull,type:varchar(32)"`
	Trigger        string    `bun:"trigger,notnull,type:varchar(255)"`
	Beneficiary    string    `bun:"beneficiary,notnull,type:varchar(64)"`
	Quantity       string    `bun:"quantity,notnull,type:varchar(64)"`
	SnapshotBefore int64     `bun:"snapshot_before,notnull,type:bigint"`
	Minted         *string   `bun:"minted,type:varchar(64)"`
	Payout         *string   `bun:"payout,type:varchar(64)"`
	FailedAt       *string   `bun:"failed_at,type:varchar(32)"`
	Error          *string   `bun:"error,type:text"`
	Attempts       int       `bun:"attempts,notnull,default:0"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toSupplyDao(s *ledger.Supply) *SupplyDao {
	return &SupplyDao{
		Code:      s.Supply.Symbol.Code,
		Precision: s.Supply.Symbol.Precision,
		Supply:    s.Supply.Amount,
		MaxSupply: s.MaxSupply.Amount,
		Issuer:    s.Issuer.String(),
	}
}

func toSupply(dao *SupplyDao) *ledger.Supply {
	sym := asset.NewSymbol(dao.Code, dao.Precision)
	return &ledger.Supply{
		Supply:    asset.New(dao.Supply, sym),
		MaxSupply: asset.New(dao.MaxSupply, sym),
		Issuer:    asset.Name(dao.Issuer),
	}
}

func toBalanceDao(b *ledger.Balance) *BalanceDao {
	return &BalanceDao{
		Owner:     b.Owner.String(),
		Code:      b.Balance.Symbol.Code,
		Precision: b.Balance.Symbol.Precision,
		Amount:    b.Balance.Amount,
		Payer:     b.Payer.String(),
	}
}

func toBalance(dao *BalanceDao) *ledger.Balance {
	return &ledger.Balance{
		Owner:   asset.Name(dao.Owner),
		Balance: asset.New(dao.Amount, asset.NewSymbol(dao.Code, dao.Precision)),
		Payer:   asset.Name(dao.Payer),
	}
}

func toSagaDao(s *saga.Saga) *SagaDao {
	dao := &SagaDao{
		ID:             s.ID,
		Kind:           string(s.Kind),
		State:          string(s.State),
		Trigger:        s.Trigger,
		Beneficiary:    s.Beneficiary.String(),
		Quantity:       s.Quantity.String(),
		SnapshotBefore: s.SnapshotBefore,
		Attempts:       s.Attempts,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}

	if s.Minted != nil {
		v := s.Minted.String()
		dao.Minted = &v
	}
	if s.Payout != nil {
		v := s.Payout.String()
		dao.Payout = &v
	}
	if s.FailedAt != "" {
		v := string(s.FailedAt)
		dao.FailedAt = &v
	}
	if s.Error != "" {
		dao.Error = &s.Error
	}

	return dao
}

func toSaga(dao *SagaDao) (*saga.Saga, error) {
	qty, err := asset.Parse(dao.Quantity)
	if err != nil {
		return nil, fmt.Errorf("saga %s quantity: %w", dao.ID, err)
	}

	s := &saga.Saga{
		ID:             dao.ID,
		Kind:           saga.Kind(dao.Kind),
		State:          saga.State(dao.State),
		Trigger:        dao.Trigger,
		Beneficiary:    asset.Name(dao.Beneficiary),
		Quantity:       qty,
		SnapshotBefore: dao.SnapshotBefore,
		Attempts:       dao.Attempts,
		CreatedAt:      dao.CreatedAt,
		UpdatedAt:      dao.UpdatedAt,
	}

	if dao.Minted != nil {
		minted, err := asset.Parse(*dao.Minted)
		if err != nil {
			return nil, fmt.Errorf("saga %s minted: %w", dao.ID, err)
		}
		s.Minted = &minted
	}
	if dao.Payout != nil {
		payout, err := asset.Parse(*dao.Payout)
		if err != nil {
			return nil, fmt.Errorf("saga %s payout: %w", dao.ID, err)
		}
		s.Payout = &payout
	}
	if dao.FailedAt != nil {
		s.FailedAt = saga.State(*dao.FailedAt)
	}
	if dao.Error != nil {
		s.Error = *dao.Error
	}

	return s, nil
}
