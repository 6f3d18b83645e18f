/*
policy.go - Layer selection policy and consumption planning

PURPOSE:
  Decides which cost layers an outbound operation draws from, and in what
  order. This is a pure function over a snapshot of layers: it never
  mutates anything. The ledger applies a returned plan atomically.

SELECTION ORDER:
  1. Descending unit cost  - higher-cost batches are depleted first
  2. Ascending creation time - oldest-first among equal-cost layers

  The business rationale for highest-cost-first: realized profit is
  understated conservatively, protecting reported margins. The oldest-first
  tie-break keeps the audit trail predictable.

ALL-OR-NOTHING:
  If total remaining across layers is less than the requested quantity,
  planning fails with InsufficientStockError and the caller must not touch
  any layer. There is no partial fulfillment.

EXAMPLE:
  layers: [cost=10 qty=5 t=1], [cost=15 qty=3 t=2], [cost=10 qty=4 t=3]
  outbound quantity 6 consumes:
    3 from cost=15 (highest cost)
    3 from cost=10 t=1 (tie-break: oldest of the cost=10 pair)
  leaving cost=10 t=1 at 2 remaining and cost=10 t=3 untouched.

SEE ALSO:
  - ledger.go: Applies plans under the product lock
  - applier.go: Computes profit from a plan's weighted cost
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONSUMPTION ORDER
// =============================================================================

// SortConsumptionOrder orders layers in place into the policy's fixed
// consumption order: unit cost descending, then creation time ascending.
func SortConsumptionOrder(layers []CostLayer) {
	sort.SliceStable(layers, func(i, j int) bool {
		if !layers[i].UnitCost.Equal(layers[j].UnitCost) {
			return layers[i].UnitCost.GreaterThan(layers[j].UnitCost)
		}
		return layers[i].CreatedAt.Before(layers[j].CreatedAt)
	})
}

// =============================================================================
// CONSUMPTION PLAN
// =============================================================================

// ConsumptionPlan is the result of planning an outbound draw.
type ConsumptionPlan struct {
	Entries []Consumption
	// TotalCost is the summed layer cost of the plan, used for profit.
	TotalCost decimal.Decimal
}

// PlanConsumption selects layers for an outbound quantity from a snapshot
// already in consumption order (see SortConsumptionOrder). Each selected
// layer contributes min(remaining, still-needed) units.
//
// Returns InsufficientStockError if the layers cannot cover the quantity;
// in that case the caller must leave every layer untouched.
func PlanConsumption(productID ProductID, layers []CostLayer, quantity int64) (ConsumptionPlan, error) {
	if quantity <= 0 {
		return ConsumptionPlan{}, ErrInvalidQuantity
	}

	var onHand int64
	for _, l := range layers {
		onHand += l.Remaining
	}
	if onHand < quantity {
		return ConsumptionPlan{}, &InsufficientStockError{
			ProductID: productID,
			OnHand:    onHand,
			Requested: quantity,
		}
	}

	plan := ConsumptionPlan{TotalCost: decimal.Zero}
	needed := quantity
	for _, l := range layers {
		if needed == 0 {
			break
		}
		if l.Remaining == 0 {
			continue
		}
		take := l.Remaining
		if take > needed {
			take = needed
		}
		entry := Consumption{LayerID: l.ID, Quantity: take, UnitCost: l.UnitCost}
		plan.Entries = append(plan.Entries, entry)
		plan.TotalCost = plan.TotalCost.Add(entry.Cost())
		needed -= take
	}
	return plan, nil
}
