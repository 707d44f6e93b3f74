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
		log.Println("creating sagas table...")
		if err := mghelper.CreateSchema(ctx, db, &ledgerstore.SagaDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &ledgerstore.SagaDao{}, "state", "updated_at", "beneficiary")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping sagas table...")
		return mghelper.DropTables(ctx, db, &ledgerstore.SagaDao{})
	})
}
