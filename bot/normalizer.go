/*
Package bot is the command ingestion pipeline: it turns raw chat input
into committed inventory transactions.

normalizer.go - Raw input -> canonical Command

PURPOSE:
  Converts either a free-text message or a structured card-form payload
  into exactly one validated ledger.Command, or fails with a typed error.
  The Normalizer is total-or-nothing: no partially-formed Command ever
  leaves this file.

TWO PATHS, ONE CONTRACT:
  Form path:  deterministic field mapping, validator-checked.
  Text path:  the completion collaborator extracts an untyped candidate,
              then EVERY field is re-validated here with the same rules
              as the form path. The AI boundary is never trusted.

PRODUCT RESOLUTION:
  1. Exact id match
  2. Exact name match (case-insensitive)
  3. Substring match - a single hit resolves; several hits fail with
     AmbiguousProduct (never guess); none fails with UnknownProduct.

SEE ALSO:
  - completion/client.go: The extraction collaborator
  - dispatcher.go: Drives normalize -> admit -> apply -> respond
*/
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/completion"
	"github.com/stockline/inventory-bot/ledger"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Catalog is the product lookup surface the Normalizer needs.
// *ledger.Ledger satisfies it.
type Catalog interface {
	Products() []ledger.Product
}

// Extractor is the AI completion collaborator: free text in, untyped
// candidate out. Treated as unreliable and possibly slow.
type Extractor interface {
	Extract(ctx context.Context, conversationID, text string) (completion.Candidate, error)
}

// =============================================================================
// INPUT TYPES
// =============================================================================

// EventMeta carries the originating event's identity into the Command.
type EventMeta struct {
	EventID        string // stable id from the transport; idempotency seed
	ConversationID string
	Sender         string
}

// FormSubmission is the card-form payload schema.
type FormSubmission struct {
	Kind      string `json:"kind" validate:"required,oneof=inbound outbound"`
	ProductID string `json:"productId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost  string `json:"unitCost,omitempty"`  // inbound: required, decimal >= 0
	UnitPrice string `json:"unitPrice,omitempty"` // outbound: optional, decimal >= 0
}

// =============================================================================
// NORMALIZER
// =============================================================================

type Normalizer struct {
	catalog   Catalog
	extractor Extractor
	validate  *validator.Validate
	log       *zap.Logger
}

func NewNormalizer(catalog Catalog, extractor Extractor, log *zap.Logger) *Normalizer {
	return &Normalizer{
		catalog:   catalog,
		extractor: extractor,
		validate:  validator.New(),
		log:       log,
	}
}

// =============================================================================
// FORM PATH
// =============================================================================

// FromForm maps a card submission to a Command. Missing required fields
// fail with IncompleteCommand; unknown products with UnknownProduct.
func (n *Normalizer) FromForm(form FormSubmission, meta EventMeta) (ledger.Command, error) {
	if err := n.validate.Struct(form); err != nil {
		var missing []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				missing = append(missing, strings.ToLower(fe.Field()))
			}
		} else {
			missing = append(missing, "form")
		}
		return ledger.Command{}, &IncompleteCommandError{Missing: missing}
	}

	product, err := n.resolveProduct(form.ProductID)
	if err != nil {
		return ledger.Command{}, err
	}

	cmd := ledger.Command{
		Kind:           ledger.CommandKind(form.Kind),
		ProductID:      product.ID,
		Quantity:       form.Quantity,
		IdempotencyKey: meta.EventID,
		Actor:          meta.Sender,
	}
	return n.attachMoney(cmd, form.UnitCost, form.UnitPrice)
}

// =============================================================================
// FREE-TEXT PATH
// =============================================================================

// FromText extracts a candidate via the completion collaborator and
// re-validates every field against the same constraints as the form path.
func (n *Normalizer) FromText(ctx context.Context, text string, meta EventMeta) (ledger.Command, error) {
	candidate, err := n.extractor.Extract(ctx, meta.ConversationID, text)
	if err != nil {
		if errors.Is(err, completion.ErrMalformed) {
			// The model replied but produced nothing usable; treat it the
			// same as a message with no recognizable fields.
			return ledger.Command{}, &IncompleteCommandError{Missing: []string{"kind", "product", "quantity"}}
		}
		return ledger.Command{}, fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}

	var missing []string

	kind := ledger.CommandKind(strings.ToLower(strings.TrimSpace(candidate.Kind)))
	if kind != ledger.KindInbound && kind != ledger.KindOutbound {
		missing = append(missing, "kind")
	}

	if strings.TrimSpace(candidate.Product) == "" {
		missing = append(missing, "product")
	}

	quantity, qerr := parseQuantity(candidate.Quantity)
	if qerr != nil {
		missing = append(missing, "quantity")
	}

	if len(missing) > 0 {
		return ledger.Command{}, &IncompleteCommandError{Missing: missing}
	}

	product, err := n.resolveProduct(candidate.Product)
	if err != nil {
		return ledger.Command{}, err
	}

	cmd := ledger.Command{
		Kind:           kind,
		ProductID:      product.ID,
		Quantity:       quantity,
		IdempotencyKey: meta.EventID,
		Actor:          meta.Sender,
		Note:           text,
	}
	return n.attachMoney(cmd, candidate.UnitCost, candidate.UnitPrice)
}

// =============================================================================
// FIELD VALIDATION
// =============================================================================

// attachMoney parses and validates the kind-specific money fields.
// Shared by both paths so the constraints cannot drift apart.
func (n *Normalizer) attachMoney(cmd ledger.Command, unitCost, unitPrice string) (ledger.Command, error) {
	switch cmd.Kind {
	case ledger.KindInbound:
		cost, err := parseMoney(unitCost)
		if err != nil || cost == nil || cost.IsNegative() {
			return ledger.Command{}, &IncompleteCommandError{Missing: []string{"unit cost"}}
		}
		cmd.UnitCost = cost
	case ledger.KindOutbound:
		price, err := parseMoney(unitPrice)
		if err != nil || (price != nil && price.IsNegative()) {
			return ledger.Command{}, &IncompleteCommandError{Missing: []string{"unit price"}}
		}
		cmd.UnitPrice = price // nil is fine: unpriced outbound
	}
	return cmd, nil
}

func parseQuantity(s string) (int64, error) {
	q, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if q <= 0 {
		return 0, ledger.ErrInvalidQuantity
	}
	return q, nil
}

// parseMoney returns nil for an empty field and an error for garbage.
func parseMoney(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// =============================================================================
// PRODUCT RESOLUTION
// =============================================================================

func (n *Normalizer) resolveProduct(ref string) (ledger.Product, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ledger.Product{}, &IncompleteCommandError{Missing: []string{"product"}}
	}
	products := n.catalog.Products()

	// Exact id wins outright.
	for _, p := range products {
		if string(p.ID) == ref {
			return p, nil
		}
	}

	// Exact name (case-insensitive) next.
	lower := strings.ToLower(ref)
	var exact []ledger.Product
	for _, p := range products {
		if strings.ToLower(p.Name) == lower {
			exact = append(exact, p)
		}
	}
	if len(exact) == 1 {
		return exact[0], nil
	}
	if len(exact) > 1 {
		return ledger.Product{}, ambiguous(ref, exact)
	}

	// Substring match last. One hit resolves; more is ambiguous.
	var fuzzy []ledger.Product
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			fuzzy = append(fuzzy, p)
		}
	}
	switch len(fuzzy) {
	case 1:
		return fuzzy[0], nil
	case 0:
		return ledger.Product{}, &ledger.UnknownProductError{ProductID: ledger.ProductID(ref)}
	default:
		return ledger.Product{}, ambiguous(ref, fuzzy)
	}
}

func ambiguous(query string, matches []ledger.Product) error {
	names := make([]string, len(matches))
	for i, p := range matches {
		names[i] = p.Name
	}
	return &AmbiguousProductError{Query: query, Candidates: names}
}
