package migrations

import (
	"context"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/liquid-stake/pkg/migrations/ledgerdb"
	mghelper "github.com/chainsafe/liquid-stake/pkg/pgutil"
)

func migrateUp(t *testing.T, db *bun.DB) *migrate.Migrator {
	t.Helper()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, ledgerdb.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Fatal("Expected migrations to run, but none were applied")
	}
	return migrator
}

func TestLedgerDBMigrations_Apply(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()

	migrateUp(t, db)

	for _, table := range []string{"accounts", "supplies", "balances", "sagas", "bun_migrations"} {
		mghelper.AssertTableExists(t, db, table)
	}
	mghelper.AssertIndexExists(t, db, "idx_balances_code")
	mghelper.AssertIndexExists(t, db, "idx_sagas_state")
	mghelper.AssertIndexExists(t, db, "idx_sagas_updated_at")
	mghelper.AssertIndexExists(t, db, "idx_sagas_beneficiary")
}

func TestLedgerDBMigrations_Constraints(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrateUp(t, db)

	_, err := db.ExecContext(ctx,
		"INSERT INTO balances (owner, code, precision, amount, payer) VALUES ('alice', 'WTK', 4, -1, 'alice')")
	if err == nil {
		t.Error("Expected negative balance to be rejected")
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO supplies (code, precision, supply, max_supply, issuer) VALUES ('WTK', 4, 0, 0, 'liquidstake')")
	if err == nil {
		t.Error("Expected zero max supply to be rejected")
	}
}

func TestMigrations_Idempotency(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrateUp(t, db)

	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}
	mghelper.AssertTableExists(t, db, "sagas")
}

func TestMigrations_Rollback(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrateUp(t, db)

	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	for _, table := range []string{"sagas", "balances", "supplies", "accounts"} {
		mghelper.AssertTableNotExists(t, db, table)
	}
}
