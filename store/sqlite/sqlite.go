/*
Package sqlite provides a SQLite-backed RowStore.

PURPOSE:
  Local persistence for development and integration tests, behind the
  same narrow RowStore interface as the spreadsheet store. Transactions
  are append-only; cost layers are upserted in place as consumption
  draws them down.

KEY TABLES:
  products:      Catalog rows (seeded, read at startup)
  cost_layers:   One row per inbound batch; remaining decremented, never deleted
  transactions:  Immutable record of every committed movement

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch the transactions table, and a
  unique index on idempotency_key rejects a double-commit that slipped
  past the in-process gate (process restart mid-redelivery).

WAL MODE:
  Opened with WAL so admin reads do not block the writer.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: The RowStore contract
  - feishu/sheet.go: The spreadsheet implementation
  - store/memory: In-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stockline/inventory-bot/ledger"
)

// Store implements ledger.RowStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.RowStore = (*Store)(nil)

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		unit TEXT
	);

	CREATE TABLE IF NOT EXISTS cost_layers (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		origin_tx TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_layers_product
		ON cost_layers(product_id, created_at);

	-- Immutable movement record. No UPDATE/DELETE ever runs against it.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_cost TEXT,
		unit_price TEXT,
		consumed_json TEXT,
		profit TEXT,
		created_at TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		actor TEXT,
		note TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_product
		ON transactions(product_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG
// =============================================================================

// PutProduct seeds or updates a catalog row. Not part of RowStore; the
// catalog is managed out of band.
func (s *Store) PutProduct(ctx context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO products (id, name, category, unit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			unit = excluded.unit
	`
	_, err := s.db.ExecContext(ctx, query, string(p.ID), p.Name, p.Category, p.Unit)
	return err
}

func (s *Store) Products(ctx context.Context) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, category, unit FROM products ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		var p ledger.Product
		var id string
		var category, unit sql.NullString
		if err := rows.Scan(&id, &p.Name, &category, &unit); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.ID = ledger.ProductID(id)
		p.Category = category.String
		p.Unit = unit.String
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// COST LAYERS
// =============================================================================

func (s *Store) OpenLayers(ctx context.Context, id ledger.ProductID) ([]ledger.CostLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, product_id, unit_cost, quantity, remaining, created_at, origin_tx
		FROM cost_layers
		WHERE product_id = ?
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("query layers: %w", err)
	}
	defer rows.Close()

	var layers []ledger.CostLayer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (s *Store) UpsertLayer(ctx context.Context, layer ledger.CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cost_layers (id, product_id, unit_cost, quantity, remaining, created_at, origin_tx)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remaining = excluded.remaining
	`
	_, err := s.db.ExecContext(ctx, query,
		string(layer.ID),
		string(layer.ProductID),
		layer.UnitCost.String(),
		layer.Quantity,
		layer.Remaining,
		layer.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(layer.OriginTx),
	)
	if err != nil {
		return fmt.Errorf("upsert layer %s: %w", layer.ID, err)
	}
	return nil
}

func scanLayer(rows *sql.Rows) (ledger.CostLayer, error) {
	var (
		layer               ledger.CostLayer
		id, productID       string
		unitCost, createdAt string
		originTx            sql.NullString
	)
	if err := rows.Scan(&id, &productID, &unitCost, &layer.Quantity,
		&layer.Remaining, &createdAt, &originTx); err != nil {
		return layer, fmt.Errorf("scan layer: %w", err)
	}

	cost, err := decimal.NewFromString(unitCost)
	if err != nil {
		return layer, fmt.Errorf("layer %s unit_cost: %w", id, err)
	}
	at, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return layer, fmt.Errorf("layer %s created_at: %w", id, err)
	}

	layer.ID = ledger.LayerID(id)
	layer.ProductID = ledger.ProductID(productID)
	layer.UnitCost = cost
	layer.CreatedAt = at
	layer.OriginTx = ledger.TransactionID(originTx.String)
	return layer, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var consumedJSON sql.NullString
	if len(tx.Consumed) > 0 {
		raw, err := json.Marshal(tx.Consumed)
		if err != nil {
			return fmt.Errorf("marshal consumption: %w", err)
		}
		consumedJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO transactions
		(id, kind, product_id, quantity, unit_cost, unit_price, consumed_json, profit,
		 created_at, idempotency_key, actor, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(tx.ID),
		string(tx.Kind),
		string(tx.ProductID),
		tx.Quantity,
		nullDecimal(tx.UnitCost),
		nullDecimal(tx.UnitPrice),
		consumedJSON,
		nullDecimal(tx.Profit),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullString(tx.IdempotencyKey),
		tx.Actor,
		tx.Note,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s already recorded: %w", tx.ID, err)
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// Transactions returns the most recent movements, newest first (admin view).
func (s *Store) Transactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, kind, product_id, quantity, unit_cost, unit_price, consumed_json,
		       profit, created_at, idempotency_key, actor, note
		FROM transactions
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx                          ledger.Transaction
		id, kind, productID         string
		unitCost, unitPrice, profit sql.NullString
		consumedJSON, key           sql.NullString
		actor, note                 sql.NullString
		createdAt                   string
	)
	if err := rows.Scan(&id, &kind, &productID, &tx.Quantity,
		&unitCost, &unitPrice, &consumedJSON, &profit,
		&createdAt, &key, &actor, &note); err != nil {
		return tx, fmt.Errorf("scan transaction: %w", err)
	}

	tx.ID = ledger.TransactionID(id)
	tx.Kind = ledger.CommandKind(kind)
	tx.ProductID = ledger.ProductID(productID)
	tx.IdempotencyKey = key.String
	tx.Actor = actor.String
	tx.Note = note.String

	var err error
	if tx.UnitCost, err = parseNullDecimal(unitCost); err != nil {
		return tx, fmt.Errorf("transaction %s unit_cost: %w", id, err)
	}
	if tx.UnitPrice, err = parseNullDecimal(unitPrice); err != nil {
		return tx, fmt.Errorf("transaction %s unit_price: %w", id, err)
	}
	if tx.Profit, err = parseNullDecimal(profit); err != nil {
		return tx, fmt.Errorf("transaction %s profit: %w", id, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return tx, fmt.Errorf("transaction %s created_at: %w", id, err)
	}
	if consumedJSON.Valid {
		if err := json.Unmarshal([]byte(consumedJSON.String), &tx.Consumed); err != nil {
			return tx, fmt.Errorf("transaction %s consumption: %w", id, err)
		}
	}
	return tx, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
