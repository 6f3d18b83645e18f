/*
ledger.go - In-memory cost-layer state

PURPOSE:
  The Ledger holds the authoritative in-memory stock state: per product,
  an ordered collection of cost layers. It is rebuilt from the row store
  at startup and mutated only through OpenLayer / Consume / Restore.

CRITICAL INVARIANTS:
  1. SUM: OnHand(product) == sum of Remaining across the product's layers,
     after every committed transaction.
  2. AUDIT: Exhausted layers are zeroed, never deleted.
  3. ORDER: LayersFor returns the consumption order (cost desc, created
     asc), recomputed on every read - never a stale cached order.

CONCURRENCY:
  The product is the unit of mutual exclusion. Each product carries its
  own mutex; the check-then-consume step runs entirely under it, so an
  outbound either applies fully or leaves every layer untouched.
  Operations on different products proceed in parallel. There are no
  cross-product operations, so no lock ordering concerns.

REBUILD:
  Rebuild replaces all in-memory state from the row store. No cache is
  trusted across restarts.

SEE ALSO:
  - policy.go: Consumption order and planning
  - applier.go: Drives mutations and owns rollback on persistence failure
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the in-memory stock state for all products.
type Ledger struct {
	mu       sync.RWMutex
	products map[ProductID]Product
	states   map[ProductID]*productState
}

// productState is one product's layers plus the mutex serializing its
// check-then-consume step.
type productState struct {
	mu     sync.Mutex
	layers []*CostLayer
}

func NewLedger() *Ledger {
	return &Ledger{
		products: make(map[ProductID]Product),
		states:   make(map[ProductID]*productState),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

// RegisterProduct adds or replaces a catalog entry. Existing layers for
// the product are kept.
func (l *Ledger) RegisterProduct(p Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = p
	if _, ok := l.states[p.ID]; !ok {
		l.states[p.ID] = &productState{}
	}
}

// Product looks up a catalog entry by id.
func (l *Ledger) Product(id ProductID) (Product, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.products[id]
	return p, ok
}

// Products returns the catalog sorted by name (stable for rendering).
func (l *Ledger) Products() []Product {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Product, 0, len(l.products))
	for _, p := range l.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *Ledger) state(id ProductID) (*productState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.states[id]
	return s, ok
}

// =============================================================================
// REBUILD - Reconstruct state from the row store
// =============================================================================

// Rebuild replaces all in-memory state with what the row store holds.
// Called at startup before the dispatcher accepts any command.
func (l *Ledger) Rebuild(ctx context.Context, store RowStore) error {
	products, err := store.Products(ctx)
	if err != nil {
		return &PersistenceError{Op: "read_products", Err: err}
	}

	states := make(map[ProductID]*productState, len(products))
	catalog := make(map[ProductID]Product, len(products))
	for _, p := range products {
		layers, err := store.OpenLayers(ctx, p.ID)
		if err != nil {
			return &PersistenceError{Op: "read_layers", Err: err}
		}
		s := &productState{layers: make([]*CostLayer, 0, len(layers))}
		for _, layer := range layers {
			if layer.Remaining < 0 || layer.Remaining > layer.Quantity {
				return fmt.Errorf("corrupt layer %s for product %s: remaining %d of %d",
					layer.ID, p.ID, layer.Remaining, layer.Quantity)
			}
			cp := layer
			s.layers = append(s.layers, &cp)
		}
		states[p.ID] = s
		catalog[p.ID] = p
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.products = catalog
	l.states = states
	return nil
}

// =============================================================================
// LAYER OPERATIONS
// =============================================================================

// OpenLayer appends a new cost layer for an inbound batch.
func (l *Ledger) OpenLayer(id ProductID, quantity int64, unitCost decimal.Decimal, originTx TransactionID, at time.Time) (CostLayer, error) {
	if quantity <= 0 {
		return CostLayer{}, ErrInvalidQuantity
	}
	if unitCost.IsNegative() {
		return CostLayer{}, ErrInvalidUnitCost
	}
	s, ok := l.state(id)
	if !ok {
		return CostLayer{}, &UnknownProductError{ProductID: id}
	}

	layer := CostLayer{
		ID:        LayerID(uuid.NewString()),
		ProductID: id,
		UnitCost:  unitCost,
		Quantity:  quantity,
		Remaining: quantity,
		CreatedAt: at,
		OriginTx:  originTx,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := layer
	s.layers = append(s.layers, &cp)
	return layer, nil
}

// removeLayer deletes a just-opened layer. Only the applier calls this,
// to undo an inbound whose persistence write failed. Committed layers are
// never removed.
func (l *Ledger) removeLayer(id ProductID, layerID LayerID) {
	s, ok := l.state(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, layer := range s.layers {
		if layer.ID == layerID {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return
		}
	}
}

// Consume plans and applies an outbound draw atomically under the product
// lock. On success it returns the plan and post-decrement snapshots of
// every touched layer (for persistence). On InsufficientStock no layer is
// mutated.
func (l *Ledger) Consume(id ProductID, quantity int64) (ConsumptionPlan, []CostLayer, error) {
	s, ok := l.state(id)
	if !ok {
		return ConsumptionPlan{}, nil, &UnknownProductError{ProductID: id}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]CostLayer, len(s.layers))
	for i, layer := range s.layers {
		snapshot[i] = *layer
	}
	SortConsumptionOrder(snapshot)

	plan, err := PlanConsumption(id, snapshot, quantity)
	if err != nil {
		return ConsumptionPlan{}, nil, err
	}

	byID := make(map[LayerID]*CostLayer, len(s.layers))
	for _, layer := range s.layers {
		byID[layer.ID] = layer
	}

	touched := make([]CostLayer, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		layer := byID[e.LayerID]
		layer.Remaining -= e.Quantity
		touched = append(touched, *layer)
	}
	return plan, touched, nil
}

// Restore adds consumed quantities back to their layers. Only the applier
// calls this, to undo an outbound whose persistence write failed.
// Returns the restored layer snapshots so the caller can re-persist them.
func (l *Ledger) Restore(id ProductID, entries []Consumption) []CostLayer {
	s, ok := l.state(id)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := make([]CostLayer, 0, len(entries))
	for _, e := range entries {
		for _, layer := range s.layers {
			if layer.ID == e.LayerID {
				layer.Remaining += e.Quantity
				restored = append(restored, *layer)
				break
			}
		}
	}
	return restored
}

// =============================================================================
// QUERIES
// =============================================================================

// OnHand returns the product's current total stock. Zero for unknown
// products; never negative.
func (l *Ledger) OnHand(id ProductID) int64 {
	s, ok := l.state(id)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, layer := range s.layers {
		total += layer.Remaining
	}
	return total
}

// LayersFor returns copies of the product's layers in consumption order.
// The order is recomputed on every call.
func (l *Ledger) LayersFor(id ProductID) []CostLayer {
	s, ok := l.state(id)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CostLayer, len(s.layers))
	for i, layer := range s.layers {
		out[i] = *layer
	}
	SortConsumptionOrder(out)
	return out
}

// Summary returns a per-product stock rollup, sorted by product name.
func (l *Ledger) Summary() []ProductSummary {
	products := l.Products()
	out := make([]ProductSummary, 0, len(products))
	for _, p := range products {
		layers := l.LayersFor(p.ID)
		var onHand int64
		open := 0
		weighted := decimal.Zero
		for _, layer := range layers {
			if layer.Remaining == 0 {
				continue
			}
			onHand += layer.Remaining
			open++
			weighted = weighted.Add(layer.UnitCost.Mul(decimal.NewFromInt(layer.Remaining)))
		}
		avg := decimal.Zero
		if onHand > 0 {
			avg = weighted.Div(decimal.NewFromInt(onHand)).Round(4)
		}
		out = append(out, ProductSummary{
			Product:     p,
			OnHand:      onHand,
			OpenLayers:  open,
			AvgUnitCost: avg,
		})
	}
	return out
}
