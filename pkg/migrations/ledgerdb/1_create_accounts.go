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
		log.Println("creating accounts table...")
		return mghelper.CreateSchema(ctx, db, &ledgerstore.AccountDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping accounts table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.AccountDao{})
	})
}
