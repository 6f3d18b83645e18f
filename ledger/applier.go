/*
applier.go - Applies validated Commands against the ledger

PURPOSE:
  The Applier is the single write path. It turns a canonical Command into
  a committed Transaction: inbound opens a layer, outbound consumes layers
  per the selection policy and computes realized profit. It also owns the
  one compensating action in the system: if the row-store write fails
  after the in-memory mutation, the mutation is rolled back before the
  failure is reported, preserving the sum invariant.

UNIT OF ISOLATION:
  Each Apply is serialized per product (applyLock), so no concurrent
  transaction can observe a partially applied consumption, and persistence
  writes for one product reach the row store in application order. The
  ledger's own short lock still protects reads from the admin surface.

PERSISTENCE ORDER:
  1. Upsert every touched layer (new layer for inbound, decremented
     layers for outbound)
  2. Append the transaction record
  Success is only reported after both complete. On any failure the
  in-memory state is restored and the store is converged back
  best-effort: an outbound re-upserts the restored layers, an inbound
  whose layer row already landed zeroes that row so a rebuild cannot
  resurrect the batch.

PROFIT:
  profit = quantity x unit price - sum(consumed_i.quantity x unit cost_i)
  Only computed when the outbound carries a sale price; nil otherwise.
  Inbound transactions never carry profit.

SEE ALSO:
  - ledger.go: The state being mutated
  - bot/dispatcher.go: The only caller, after normalization and dedup
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Applier applies Commands and persists the results.
type Applier struct {
	ledger *Ledger
	store  RowStore
	log    *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[ProductID]*sync.Mutex
}

func NewApplier(l *Ledger, store RowStore, log *zap.Logger) *Applier {
	return &Applier{
		ledger: l,
		store:  store,
		log:    log,
		now:    time.Now,
		locks:  make(map[ProductID]*sync.Mutex),
	}
}

// applyLock returns the per-product mutex, creating it on first use.
func (a *Applier) applyLock(id ProductID) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.locks[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	a.locks[id] = m
	return m
}

// Apply validates and applies a Command, returning the committed
// Transaction. On any error the ledger is left exactly as it was.
func (a *Applier) Apply(ctx context.Context, cmd Command) (*Transaction, error) {
	if cmd.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, ok := a.ledger.Product(cmd.ProductID); !ok {
		return nil, &UnknownProductError{ProductID: cmd.ProductID}
	}

	lock := a.applyLock(cmd.ProductID)
	lock.Lock()
	defer lock.Unlock()

	switch cmd.Kind {
	case KindInbound:
		return a.applyInbound(ctx, cmd)
	case KindOutbound:
		return a.applyOutbound(ctx, cmd)
	default:
		return nil, ErrInvalidQuantity
	}
}

// =============================================================================
// INBOUND
// =============================================================================

func (a *Applier) applyInbound(ctx context.Context, cmd Command) (*Transaction, error) {
	if cmd.UnitCost == nil || cmd.UnitCost.IsNegative() {
		return nil, ErrInvalidUnitCost
	}

	txID := TransactionID(uuid.NewString())
	at := a.now()

	layer, err := a.ledger.OpenLayer(cmd.ProductID, cmd.Quantity, *cmd.UnitCost, txID, at)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:             txID,
		Kind:           KindInbound,
		ProductID:      cmd.ProductID,
		Quantity:       cmd.Quantity,
		UnitCost:       cmd.UnitCost,
		CreatedAt:      at,
		IdempotencyKey: cmd.IdempotencyKey,
		Actor:          cmd.Actor,
		Note:           cmd.Note,
	}

	if err := a.store.UpsertLayer(ctx, layer); err != nil {
		// The layer never reached the store; undoing the memory side is
		// the whole rollback.
		a.ledger.removeLayer(cmd.ProductID, layer.ID)
		return nil, &PersistenceError{Op: "upsert_layer", Err: err}
	}
	if err := a.store.AppendTransaction(ctx, *tx); err != nil {
		// The layer row is already in the store. Zero its remaining
		// quantity so a rebuild does not resurrect the batch, then undo
		// the memory side.
		a.ledger.removeLayer(cmd.ProductID, layer.ID)
		layer.Remaining = 0
		a.reconverge(ctx, []CostLayer{layer})
		return nil, &PersistenceError{Op: "append_transaction", Err: err}
	}
	return tx, nil
}

// =============================================================================
// OUTBOUND
// =============================================================================

func (a *Applier) applyOutbound(ctx context.Context, cmd Command) (*Transaction, error) {
	if cmd.UnitPrice != nil && cmd.UnitPrice.IsNegative() {
		return nil, ErrInvalidUnitPrice
	}

	plan, touched, err := a.ledger.Consume(cmd.ProductID, cmd.Quantity)
	if err != nil {
		return nil, err
	}

	var profit *decimal.Decimal
	if cmd.UnitPrice != nil {
		revenue := cmd.UnitPrice.Mul(decimal.NewFromInt(cmd.Quantity))
		p := revenue.Sub(plan.TotalCost)
		profit = &p
	}

	tx := &Transaction{
		ID:             TransactionID(uuid.NewString()),
		Kind:           KindOutbound,
		ProductID:      cmd.ProductID,
		Quantity:       cmd.Quantity,
		UnitPrice:      cmd.UnitPrice,
		Consumed:       plan.Entries,
		Profit:         profit,
		CreatedAt:      a.now(),
		IdempotencyKey: cmd.IdempotencyKey,
		Actor:          cmd.Actor,
		Note:           cmd.Note,
	}

	if err := a.persist(ctx, tx, touched); err != nil {
		restored := a.ledger.Restore(cmd.ProductID, plan.Entries)
		a.reconverge(ctx, restored)
		return nil, err
	}
	return tx, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (a *Applier) persist(ctx context.Context, tx *Transaction, layers []CostLayer) error {
	for _, layer := range layers {
		if err := a.store.UpsertLayer(ctx, layer); err != nil {
			return &PersistenceError{Op: "upsert_layer", Err: err}
		}
	}
	if err := a.store.AppendTransaction(ctx, *tx); err != nil {
		return &PersistenceError{Op: "append_transaction", Err: err}
	}
	return nil
}

// reconverge re-upserts layers after a rollback so the row store matches
// memory again. Failures here are logged, not returned: the original
// persistence error is what the caller reports, and the next successful
// write of these layers repairs the store.
func (a *Applier) reconverge(ctx context.Context, layers []CostLayer) {
	for _, layer := range layers {
		if err := a.store.UpsertLayer(ctx, layer); err != nil {
			a.log.Warn("failed to re-persist layer after rollback",
				zap.String("layer_id", string(layer.ID)),
				zap.String("product_id", string(layer.ProductID)),
				zap.Error(err))
		}
	}
}
