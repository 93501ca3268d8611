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
		log.Println("creating referral_fees table...")
		if err := mghelper.CreateSchema(ctx, db, &store.ReferralFeeDao{}); err != nil {
			return err
		}
		// Upserts conflict on (referrer, token)
		return mghelper.CreateCompositeUniqueIndex(ctx, db, &store.ReferralFeeDao{},
			"idx_referral_fees_referrer_token", "referrer", "token")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping referral_fees table...")
		return mghelper.DropTables(ctx, db, &store.ReferralFeeDao{})
	})
}
