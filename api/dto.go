/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON structures for the webhook acknowledgements and the read-only
  admin endpoints. These decouple the internal ledger model from the
  external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients

VALIDATION:
  Inbound webhook payloads are validated in the feishu decoder and the
  command normalizer, not here. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/stockline/inventory-bot/ledger"
)

// =============================================================================
// WEBHOOK RESPONSES
// =============================================================================

// ackDTO is the body the platform expects for a processed delivery.
type ackDTO struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

// challengeDTO answers a URL-verification handshake.
type challengeDTO struct {
	Challenge string `json:"challenge"`
}

// =============================================================================
// ADMIN RESPONSES
// =============================================================================

// ProductDTO represents a catalog entry with its current position.
type ProductDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Unit     string `json:"unit,omitempty"`
	OnHand   int64  `json:"on_hand"`
}

// LayerDTO represents one cost layer in consumption order.
type LayerDTO struct {
	ID        string    `json:"id"`
	UnitCost  string    `json:"unit_cost"`
	Quantity  int64     `json:"quantity"`
	Remaining int64     `json:"remaining"`
	CreatedAt time.Time `json:"created_at"`
	OriginTx  string    `json:"origin_tx,omitempty"`
}

// SummaryDTO is the per-product stock summary row.
type SummaryDTO struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	OnHand      int64  `json:"on_hand"`
	OpenLayers  int    `json:"open_layers"`
	AvgUnitCost string `json:"avg_unit_cost"`
}

// ConsumptionDTO is one slice of an outbound consumption breakdown.
type ConsumptionDTO struct {
	LayerID  string `json:"layer_id"`
	Quantity int64  `json:"quantity"`
	UnitCost string `json:"unit_cost"`
}

// TransactionDTO represents one committed transaction, newest first.
type TransactionDTO struct {
	ID             string           `json:"id"`
	Kind           string           `json:"kind"`
	ProductID      string           `json:"product_id"`
	Quantity       int64            `json:"quantity"`
	UnitCost       string           `json:"unit_cost,omitempty"`
	UnitPrice      string           `json:"unit_price,omitempty"`
	CostOfGoods    string           `json:"cost_of_goods,omitempty"`
	Profit         string           `json:"profit,omitempty"`
	Consumed       []ConsumptionDTO `json:"consumed,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	IdempotencyKey string           `json:"idempotency_key"`
	Actor          string           `json:"actor,omitempty"`
	Note           string           `json:"note,omitempty"`
}

// errorDTO is the JSON error envelope.
type errorDTO struct {
	Error string `json:"error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProductDTO(p ledger.Product, onHand int64) ProductDTO {
	return ProductDTO{
		ID:       string(p.ID),
		Name:     p.Name,
		Category: p.Category,
		Unit:     p.Unit,
		OnHand:   onHand,
	}
}

func toLayerDTO(l ledger.CostLayer) LayerDTO {
	return LayerDTO{
		ID:        string(l.ID),
		UnitCost:  l.UnitCost.String(),
		Quantity:  l.Quantity,
		Remaining: l.Remaining,
		CreatedAt: l.CreatedAt,
		OriginTx:  string(l.OriginTx),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	out := TransactionDTO{
		ID:             string(tx.ID),
		Kind:           string(tx.Kind),
		ProductID:      string(tx.ProductID),
		Quantity:       tx.Quantity,
		CreatedAt:      tx.CreatedAt,
		IdempotencyKey: tx.IdempotencyKey,
		Actor:          tx.Actor,
		Note:           tx.Note,
	}
	if tx.UnitCost != nil {
		out.UnitCost = tx.UnitCost.String()
	}
	if tx.UnitPrice != nil {
		out.UnitPrice = tx.UnitPrice.String()
	}
	if tx.Profit != nil {
		out.Profit = tx.Profit.String()
	}
	if len(tx.Consumed) > 0 {
		out.CostOfGoods = tx.CostOfGoods().String()
		out.Consumed = make([]ConsumptionDTO, 0, len(tx.Consumed))
		for _, c := range tx.Consumed {
			out.Consumed = append(out.Consumed, ConsumptionDTO{
				LayerID:  string(c.LayerID),
				Quantity: c.Quantity,
				UnitCost: c.UnitCost.String(),
			})
		}
	}
	return out
}

func toSummaryDTO(s ledger.ProductSummary) SummaryDTO {
	return SummaryDTO{
		ProductID:   string(s.Product.ID),
		Name:        s.Product.Name,
		OnHand:      s.OnHand,
		OpenLayers:  s.OpenLayers,
		AvgUnitCost: s.AvgUnitCost.StringFixed(4),
	}
}
