/*
dispatcher.go - Orchestrates the ingestion pipeline

PURPOSE:
  Drives one incoming input through the fixed state machine:

    Received -> Normalized -> {AdmittedFresh | AdmittedDuplicate}
             -> Applied -> {Committed | Rejected} -> Responded

  Any failure at Normalized, Admitted, or Applied short-circuits to
  Responded with a typed error turned into a human-readable reply. No
  step is retried here - redelivery-driven retry belongs to the
  transport, and the idempotency gate makes those retries safe.

FAILURE MAPPING:
  Every error becomes exactly one user-visible reply; nothing is
  silently swallowed. Persistence failure is special: the applier has
  already rolled back the in-memory mutation, and the gate key is
  released so the transport's redelivery can retry the whole command.
  Business rejections (insufficient stock, unknown product) are
  terminal: they are recorded in the gate and replayed on duplicates.

NOTIFICATION:
  Sending the reply back to the chat surface is fire-and-forget.
  A notification failure is logged, never surfaced as a transaction
  failure - the ledger committed, the user just did not hear about it.

SEE ALSO:
  - normalizer.go, idempotency.go: The first two stages
  - ledger/applier.go: The third
*/
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/ledger"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Notifier delivers reply text back to the originating chat surface.
type Notifier interface {
	Notify(ctx context.Context, conversationID, text string) error
}

// =============================================================================
// INPUT / OUTCOME
// =============================================================================

// Input is one delivery from the transport: either free text or a card
// form submission, never both.
type Input struct {
	EventID        string // stable event id; idempotency seed
	ConversationID string
	Sender         string

	Text string          // free-text path when non-empty
	Form *FormSubmission // form path when non-nil
}

// Outcome is what the transport layer gets back (it always ACKs the
// webhook; this is for logging and the admin surface).
type Outcome struct {
	Reply     string
	Tx        *ledger.Transaction
	Duplicate bool
	Err       error // system faults only; client errors are folded into Reply
}

// =============================================================================
// DISPATCHER
// =============================================================================

type Dispatcher struct {
	normalizer *Normalizer
	gate       *Gate
	applier    *ledger.Applier
	ldg        *ledger.Ledger
	notifier   Notifier
	log        *zap.Logger
}

func NewDispatcher(n *Normalizer, gate *Gate, applier *ledger.Applier, ldg *ledger.Ledger, notifier Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		normalizer: n,
		gate:       gate,
		applier:    applier,
		ldg:        ldg,
		notifier:   notifier,
		log:        log,
	}
}

// Handle runs one input through the full pipeline and responds.
func (d *Dispatcher) Handle(ctx context.Context, in Input) Outcome {
	// Received -> Normalized
	cmd, err := d.normalize(ctx, in)
	if err != nil {
		d.log.Info("command rejected during normalization",
			zap.String("event_id", in.EventID), zap.Error(err))
		return d.respond(ctx, in, Outcome{Reply: userMessage(err)})
	}

	// Normalized -> Admitted
	admission := d.gate.Admit(cmd.IdempotencyKey)
	if !admission.Fresh {
		if admission.Prior == nil {
			return d.respond(ctx, in, Outcome{
				Duplicate: true,
				Reply:     "That request is still being processed, hold on.",
			})
		}
		// DuplicateReplay: informational, surfaces the prior result.
		d.log.Info("duplicate delivery replayed",
			zap.String("event_id", in.EventID),
			zap.String("idempotency_key", cmd.IdempotencyKey))
		return d.respond(ctx, in, Outcome{
			Duplicate: true,
			Tx:        admission.Prior.Tx,
			Reply:     "(already processed) " + admission.Prior.Reply,
		})
	}

	// Admitted -> Applied
	tx, err := d.applier.Apply(ctx, cmd)
	switch {
	case err == nil:
		reply := d.formatCommitted(tx)
		d.gate.Commit(cmd.IdempotencyKey, Result{Tx: tx, Reply: reply})
		return d.respond(ctx, in, Outcome{Tx: tx, Reply: reply})

	case errors.Is(err, ledger.ErrPersistence):
		// In-memory state already rolled back by the applier. Release the
		// key so the transport's redelivery can retry the whole command.
		d.gate.Forget(cmd.IdempotencyKey)
		d.log.Error("persistence failure, command not committed",
			zap.String("event_id", in.EventID), zap.Error(err))
		return d.respond(ctx, in, Outcome{Err: err, Reply: userMessage(err)})

	default:
		// Business rejection: terminal, replayed on duplicates.
		reply := userMessage(err)
		d.gate.Commit(cmd.IdempotencyKey, Result{Reply: reply})
		d.log.Info("command rejected by applier",
			zap.String("event_id", in.EventID), zap.Error(err))
		return d.respond(ctx, in, Outcome{Reply: reply})
	}
}

func (d *Dispatcher) normalize(ctx context.Context, in Input) (ledger.Command, error) {
	meta := EventMeta{
		EventID:        in.EventID,
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
	}
	if in.Form != nil {
		return d.normalizer.FromForm(*in.Form, meta)
	}
	return d.normalizer.FromText(ctx, in.Text, meta)
}

// respond is the single exit: every path ends in exactly one Responded
// state. Notification failures are logged, not propagated.
func (d *Dispatcher) respond(ctx context.Context, in Input, out Outcome) Outcome {
	if err := d.notifier.Notify(ctx, in.ConversationID, out.Reply); err != nil {
		d.log.Warn("failed to deliver reply",
			zap.String("conversation_id", in.ConversationID), zap.Error(err))
	}
	return out
}

// =============================================================================
// REPLY FORMATTING
// =============================================================================

func (d *Dispatcher) formatCommitted(tx *ledger.Transaction) string {
	name := string(tx.ProductID)
	if p, ok := d.ldg.Product(tx.ProductID); ok {
		name = p.Name
	}
	onHand := d.ldg.OnHand(tx.ProductID)

	switch tx.Kind {
	case ledger.KindInbound:
		return fmt.Sprintf("Recorded inbound: %d x %s @ %s. On hand: %d.",
			tx.Quantity, name, tx.UnitCost.StringFixed(2), onHand)
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "Recorded outbound: %d x %s", tx.Quantity, name)
		if tx.UnitPrice != nil {
			fmt.Fprintf(&b, " @ %s", tx.UnitPrice.StringFixed(2))
		}
		fmt.Fprintf(&b, " (cost %s", tx.CostOfGoods().StringFixed(2))
		if tx.Profit != nil {
			fmt.Fprintf(&b, ", profit %s", tx.Profit.StringFixed(2))
		}
		fmt.Fprintf(&b, "). On hand: %d.", onHand)
		return b.String()
	}
}

// userMessage maps every error in the taxonomy to a human-readable
// reply. Unrecognized errors get a generic fallback, still user-visible.
func userMessage(err error) string {
	var incomplete *IncompleteCommandError
	if errors.As(err, &incomplete) {
		return fmt.Sprintf("I couldn't complete that: please provide %s.",
			strings.Join(incomplete.Missing, ", "))
	}
	var ambiguousErr *AmbiguousProductError
	if errors.As(err, &ambiguousErr) {
		return fmt.Sprintf("Which product did you mean by %q? Matches: %s.",
			ambiguousErr.Query, strings.Join(ambiguousErr.Candidates, ", "))
	}
	var unknown *ledger.UnknownProductError
	if errors.As(err, &unknown) {
		return fmt.Sprintf("I don't know the product %q. Check the catalog and try again.",
			string(unknown.ProductID))
	}
	var stock *ledger.InsufficientStockError
	if errors.As(err, &stock) {
		return fmt.Sprintf("Not enough stock: %d on hand, %d requested. Nothing was changed.",
			stock.OnHand, stock.Requested)
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return "Quantity must be a positive whole number."
	case errors.Is(err, ledger.ErrInvalidUnitCost):
		return "Unit cost must be a non-negative amount."
	case errors.Is(err, ledger.ErrInvalidUnitPrice):
		return "Unit price must be a non-negative amount."
	case errors.Is(err, ErrIncompleteCommand):
		return "I couldn't work out what to record from that message."
	case errors.Is(err, ErrCompletionUnavailable):
		return "The assistant is temporarily unavailable, please try again shortly."
	case errors.Is(err, ledger.ErrPersistence):
		return "Couldn't save that to the ledger, nothing was recorded. Please try again."
	default:
		return "Something went wrong handling that request."
	}
}
