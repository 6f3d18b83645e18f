/*
Package ledger provides the core inventory transaction engine.

PURPOSE:
  This package contains the types and algorithms for cost-layer inventory
  accounting. Every inbound batch opens a cost layer; every outbound
  operation consumes layers in a fixed policy order and realizes profit
  against the exact unit costs of the layers it drew from.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: a catalog item referenced by every layer and transaction
  - CostLayer: a batch of stock received at one unit cost
  - Command: the canonical, fully validated inbound/outbound intent
  - Transaction: an immutable record of a committed Command
  - Consumption: one {layer, quantity, unit cost} slice of an outbound

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified after commit
  2. Precision: Uses decimal.Decimal for money to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing product/layer ids
  4. Auditability: Exhausted layers are zeroed, never deleted

USAGE:
  cmd := ledger.Command{
      Kind:      ledger.KindInbound,
      ProductID: "prod-1",
      Quantity:  10,
      UnitCost:  ledger.MoneyPtr("5.00"),
  }
  tx, err := applier.Apply(ctx, cmd)

SEE ALSO:
  - policy.go: Layer selection order and consumption planning
  - ledger.go: In-memory layer state and invariants
  - applier.go: Command application and profit computation
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type LayerID string
type TransactionID string

// =============================================================================
// PRODUCT - Catalog entry
// =============================================================================

// Product is a catalog item. Identity fields are immutable once a
// transaction references the product; descriptive fields may change.
type Product struct {
	ID       ProductID
	Name     string
	Category string
	Unit     string // unit of measure: "piece", "box", "kg", ...
}

// =============================================================================
// COST LAYER - A batch received at one unit cost
// =============================================================================

// CostLayer is a batch of inventory received at a specific unit cost.
//
// INVARIANTS:
//   - Remaining <= Quantity, Remaining >= 0
//   - A layer with Remaining == 0 is exhausted but retained for audit.
//   - Consumption never changes UnitCost or identity, only Remaining.
type CostLayer struct {
	ID        LayerID
	ProductID ProductID
	UnitCost  decimal.Decimal
	Quantity  int64 // original quantity received
	Remaining int64
	CreatedAt time.Time
	OriginTx  TransactionID // inbound transaction that opened this layer
}

// Exhausted reports whether the layer has been fully consumed.
func (l CostLayer) Exhausted() bool { return l.Remaining == 0 }

// =============================================================================
// COMMAND - Canonical intent (inbound or outbound)
// =============================================================================

type CommandKind string

const (
	KindInbound  CommandKind = "inbound"
	KindOutbound CommandKind = "outbound"
)

// Command is the fully validated representation of a user request,
// independent of whether it arrived as free text or as a card form.
// The Normalizer is the only producer of Commands.
type Command struct {
	Kind      CommandKind
	ProductID ProductID
	Quantity  int64            // always > 0
	UnitCost  *decimal.Decimal // inbound: required, >= 0
	UnitPrice *decimal.Decimal // outbound: optional sale price, >= 0

	// IdempotencyKey is derived from the originating event's stable id.
	IdempotencyKey string

	// Audit fields
	Actor string // chat user who issued the command
	Note  string // free-form remark carried through to the transaction
}

// =============================================================================
// TRANSACTION - Immutable record of a committed Command
// =============================================================================

// Consumption records one slice of an outbound draw: which layer,
// how many units, and at what unit cost those units were carried.
type Consumption struct {
	LayerID  LayerID
	Quantity int64
	UnitCost decimal.Decimal
}

// Cost returns Quantity x UnitCost for this slice.
func (c Consumption) Cost() decimal.Decimal {
	return c.UnitCost.Mul(decimal.NewFromInt(c.Quantity))
}

// Transaction is created exactly once by the Applier on success and never
// mutated afterwards. It references layers and the product by id.
type Transaction struct {
	ID        TransactionID
	Kind      CommandKind
	ProductID ProductID
	Quantity  int64

	UnitCost  *decimal.Decimal // inbound only
	UnitPrice *decimal.Decimal // outbound only, may be nil

	// Consumed is the outbound consumption breakdown, in the order the
	// layers were drawn. Empty for inbound.
	Consumed []Consumption

	// Profit is realized profit for priced outbound transactions:
	// Quantity x UnitPrice - sum of Consumed[i].Cost(). Nil otherwise.
	Profit *decimal.Decimal

	CreatedAt      time.Time
	IdempotencyKey string
	Actor          string
	Note           string
}

// CostOfGoods returns the summed layer cost of an outbound transaction.
func (t Transaction) CostOfGoods() decimal.Decimal {
	total := decimal.Zero
	for _, c := range t.Consumed {
		total = total.Add(c.Cost())
	}
	return total
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Money parses a decimal money string, returning zero on malformed input.
// Intended for literals in configuration and tests.
func Money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MoneyPtr is Money returning a pointer, for the optional price fields.
func MoneyPtr(s string) *decimal.Decimal {
	d := Money(s)
	return &d
}

// =============================================================================
// PRODUCT SUMMARY - Aggregated stock view for rendering
// =============================================================================

// ProductSummary is a per-product stock rollup used by the notification
// layer. Rendering constraints (card element ceilings) are handled by the
// renderer via pagination, never by dropping rows here.
type ProductSummary struct {
	Product     Product
	OnHand      int64
	OpenLayers  int             // layers with Remaining > 0
	AvgUnitCost decimal.Decimal // weighted by remaining quantity; zero when out of stock
}
