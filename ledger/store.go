/*
store.go - Persistence interface for the row-oriented backing store

PURPOSE:
  Defines the narrow interface between the engine and whatever holds the
  durable rows: a spreadsheet in production, SQLite locally, or memory in
  tests. The in-memory ledger is always reconstructable from this store.

REBUILD CONTRACT:
  On startup the ledger is rebuilt from Products() + OpenLayers() for each
  product. No cache is trusted across restarts; the row store is the
  durable source of truth.

WRITE CONTRACT:
  AppendTransaction is append-only: committed transactions are immutable
  and never updated or deleted. UpsertLayer writes the full current state
  of a layer keyed by its id; exhausted layers are written with a zero
  Remaining, never removed (audit trail).

IMPLEMENTATIONS:
  - feishu.SheetStore:  spreadsheet tables over the open-platform API
  - store/sqlite:       local SQLite database (dev mode, integration tests)
  - store/memory:       in-memory, for unit tests

SEE ALSO:
  - ledger.go: Rebuild uses this interface
  - applier.go: Persists committed transactions through this interface
*/
package ledger

import "context"

// RowStore is the persistence collaborator. All methods may suspend on I/O
// and must honor context cancellation.
type RowStore interface {
	// Products returns the full catalog.
	Products(ctx context.Context) ([]Product, error)

	// OpenLayers returns every persisted layer for the product, including
	// exhausted ones. Order is not significant; the ledger re-sorts.
	OpenLayers(ctx context.Context, id ProductID) ([]CostLayer, error)

	// AppendTransaction persists a committed transaction. Append-only.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// UpsertLayer persists the current state of a layer, keyed by layer id.
	UpsertLayer(ctx context.Context, layer CostLayer) error
}
