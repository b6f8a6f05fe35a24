// Package store owns database connections and schema migrations for the
// enrichment_index and enrichment_queue tables. The cache and queue packages
// build their adapters on the handles opened here.
package store

import "context"

// Driver names accepted by the store.driver setting.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the lifecycle surface shared by both backends.
type Store interface {
	Driver() string
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
