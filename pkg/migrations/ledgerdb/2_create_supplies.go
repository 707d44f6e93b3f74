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
		log.Println("creating supplies table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.SupplyDao{}); err != nil {
			return err
		}
		return mghelper.AddCheck(ctx, db, &ledgerstore.SupplyDao{}, "supply_within_bounds", "supply >= 0 AND max_supply > 0")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping supplies table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.SupplyDao{})
	})
}
