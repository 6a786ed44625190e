// Copyright 2024-2026 Aiku AI

// Package upgrades contains the session store's SQL schema revisions.
package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table is the upgrade table for the session store schema.
var Table dbutil.UpgradeTable

//go:embed *.sql
var rawUpgrades embed.FS

func init() {
	Table.RegisterFS(rawUpgrades)
}
