// Copyright 2024-2026 Aiku AI

// Package store persists per-account session records. It is a thin layer on
// top of dbutil; schema revisions live in the upgrades sub-package.
package store

import (
	"context"

	"go.mau.fi/util/dbutil"

	"github.com/aiku/mautrix-twitdm/pkg/store/upgrades"
)

// Container bundles the database handle with the query helpers.
type Container struct {
	db *dbutil.Database

	User *UserQuery
}

// New wraps an existing database handle. Call Upgrade before using the
// query helpers.
func New(db *dbutil.Database) *Container {
	db.UpgradeTable = upgrades.Table
	return &Container{
		db:   db,
		User: &UserQuery{db: db},
	}
}

// Upgrade applies any pending schema revisions.
func (c *Container) Upgrade(ctx context.Context) error {
	return c.db.Upgrade(ctx)
}

func (c *Container) Close() error {
	return c.db.Close()
}
