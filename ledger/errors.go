/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All engine-level error types in one place for consistency and
  discoverability. The bot package wraps these with chat-facing context.

ERROR CATEGORIES:
  1. Validation errors - malformed quantities or money amounts
  2. Stock errors      - consumption exceeding on-hand quantity
  3. Persistence errors - row-store read/write failures

USAGE:
  The dispatcher recovers every category except persistence into a
  human-readable chat reply:

    if errors.Is(err, ledger.ErrInsufficientStock) {
        reply = "not enough stock for that"
    }

SEE ALSO:
  - applier.go: Produces these errors
  - bot/errors.go: Normalizer-level errors (incomplete/ambiguous commands)
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when a command's quantity is not a
	// positive integer.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrInvalidUnitCost is returned for an inbound command with a missing
	// or negative unit cost.
	ErrInvalidUnitCost = errors.New("unit cost must be a non-negative amount")

	// ErrInvalidUnitPrice is returned for an outbound command whose sale
	// price is present but negative.
	ErrInvalidUnitPrice = errors.New("unit price must be a non-negative amount")

	// ErrUnknownProduct is returned when a command references a product
	// that is not in the catalog.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrInsufficientStock is returned when an outbound quantity exceeds
	// the product's on-hand total. No layer is mutated in that case.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrPersistence is returned when the row store rejects a read or
	// write. After a committed in-memory mutation this triggers rollback.
	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError details a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	OnHand    int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: on hand %d, requested %d",
		e.ProductID, e.OnHand, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// UnknownProductError identifies the missing product.
type UnknownProductError struct {
	ProductID ProductID
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product: %s", e.ProductID)
}

func (e *UnknownProductError) Unwrap() error {
	return ErrUnknownProduct
}

// PersistenceError wraps a row-store failure with the operation that hit it.
type PersistenceError struct {
	Op  string // "append_transaction", "upsert_layer", "read_products", ...
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid user input
// rather than a system fault. Client errors become chat replies; system
// faults are logged and reported as failures.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidUnitCost) ||
		errors.Is(err, ErrInvalidUnitPrice) ||
		errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrInsufficientStock)
}
