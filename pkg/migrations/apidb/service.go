// Package apidb holds all the migrations for the bridge middleware database
package apidb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the bridge database
var Migrations = migrate.NewMigrations()
