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
		log.Println("creating indexing_state table...")
		return mghelper.CreateSchema(ctx, db, &store.IndexingStateDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping indexing_state table...")
		return mghelper.DropTables(ctx, db, &store.IndexingStateDao{})
	})
}
