// Package all registers every storage backend with the storage factory.
// The binary imports this package for side effects; the config selects
// which backend actually runs.
package all

import (
	_ "collision/internal/storage/mssql"
	_ "collision/internal/storage/postgres"
	_ "collision/internal/storage/sqlite"
)
