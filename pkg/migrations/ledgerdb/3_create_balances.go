package ledgerdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/chainsafe/liquid-stake/pkg/ledgerstore"
	mghelper "github.com/chainsafe/liquid-stake/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating balances table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.BalanceDao{}); err != nil {
			return err
		}
		if err := mghelper.AddCheck(ctx, db, &ledgerstore.BalanceDao{}, "balance_not_negative", "amount >= 0"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.BalanceDao{}, "code")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping balances table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.BalanceDao{})
	})
}
