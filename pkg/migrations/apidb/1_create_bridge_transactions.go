package apidb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/crosslane/bridge-middleware/pkg/pgutil/migrations"
	"github.com/crosslane/bridge-middleware/pkg/store"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating bridge_transactions table...")
		if err := mghelper.CreateSchema(ctx, db, &store.BridgeTransactionDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &store.BridgeTransactionDao{},
			"user_address", "source_tx_hash", "status")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping bridge_transactions table...")
		return mghelper.DropTables(ctx, db, &store.BridgeTransactionDao{})
	})
}
