/*
handlers.go - Webhook and admin HTTP handlers

PURPOSE:
  Two surfaces share this router:

  Webhook (write path, called by the chat platform):
    POST /webhook/event   Message/membership events. URL-verification
                          handshakes are answered inline; message events
                          run the full pipeline before the ACK so a
                          platform redelivery always finds a recorded
                          outcome or a released key.
    POST /webhook/card    Interactive-card form submissions.

  Admin (read-only, for operators):
    GET /api/products                 Catalog with on-hand counts
    GET /api/products/{id}/layers     Cost layers in consumption order
    GET /api/summary                  Per-product stock summary
    GET /api/transactions             Recent transactions, newest first
    GET /healthz                      Liveness

ERROR HANDLING:
  The webhook always ACKs with 200 once the payload decodes; command
  failures become chat replies, not HTTP errors. Undecodable or
  token-mismatched payloads get 400/401 so the platform's logs show the
  misconfiguration. Admin errors are JSON with conventional statuses.

SEE ALSO:
  - feishu/webhook.go: Payload decoding
  - bot/dispatcher.go: The pipeline behind the write path
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/bot"
	"github.com/stockline/inventory-bot/feishu"
	"github.com/stockline/inventory-bot/ledger"
)

// maxWebhookBody bounds one delivery; the platform sends small payloads.
const maxWebhookBody = 1 << 20

// CardSender pushes interactive cards to a chat (welcome form on
// bot-added events). *feishu.Client satisfies it.
type CardSender interface {
	SendCard(ctx context.Context, conversationID string, card feishu.Card) error
}

// TransactionLister reads back committed transactions, newest first.
// *sqlite.Store satisfies it; stores without a readable transaction log
// pass nil and the endpoint reports unavailable.
type TransactionLister interface {
	Transactions(ctx context.Context, limit int) ([]ledger.Transaction, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	dispatcher *bot.Dispatcher
	decoder    *feishu.Decoder
	ldg        *ledger.Ledger
	cards      CardSender
	txs        TransactionLister
	log        *zap.Logger
}

func NewHandler(dispatcher *bot.Dispatcher, decoder *feishu.Decoder, ldg *ledger.Ledger, cards CardSender, txs TransactionLister, log *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		decoder:    decoder,
		ldg:        ldg,
		cards:      cards,
		txs:        txs,
		log:        log,
	}
}

// =============================================================================
// WEBHOOK HANDLERS
// =============================================================================

// HandleEvent receives message and membership events.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	envelope, err := h.decoder.DecodeEvent(body)
	if err != nil {
		h.log.Warn("rejected webhook event", zap.Error(err))
		writeError(w, decodeStatus(err), "invalid event payload")
		return
	}

	switch envelope.Type {
	case feishu.EventURLVerification:
		writeJSON(w, http.StatusOK, challengeDTO{Challenge: envelope.Challenge})

	case feishu.EventMessage:
		msg := envelope.Message
		if isSummaryRequest(msg.Text) {
			h.sendSummary(r.Context(), msg.ChatID)
			writeJSON(w, http.StatusOK, ackDTO{Code: 0})
			return
		}
		outcome := h.dispatcher.Handle(r.Context(), bot.Input{
			EventID:        msg.EventID,
			ConversationID: msg.ChatID,
			Sender:         msg.SenderID,
			Text:           msg.Text,
		})
		if outcome.Err != nil {
			h.log.Error("command failed", zap.String("event_id", msg.EventID), zap.Error(outcome.Err))
		}
		writeJSON(w, http.StatusOK, ackDTO{Code: 0})

	case feishu.EventBotAdded:
		h.welcome(r.Context(), envelope.ChatID)
		writeJSON(w, http.StatusOK, ackDTO{Code: 0})

	case feishu.EventBotDeleted:
		h.log.Info("removed from chat", zap.String("chat_id", envelope.ChatID))
		writeJSON(w, http.StatusOK, ackDTO{Code: 0})

	default:
		// Unknown event types are ACKed so the platform stops retrying.
		h.log.Debug("ignoring event", zap.String("event_id", envelope.EventID))
		writeJSON(w, http.StatusOK, ackDTO{Code: 0})
	}
}

// HandleCardAction receives interactive-card form submissions.
func (h *Handler) HandleCardAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	action, err := h.decoder.DecodeCardAction(body)
	if err != nil {
		h.log.Warn("rejected card action", zap.Error(err))
		writeError(w, decodeStatus(err), "invalid card payload")
		return
	}

	var form bot.FormSubmission
	if err := json.Unmarshal(action.Value, &form); err != nil {
		h.log.Warn("malformed card value", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid card value")
		return
	}

	outcome := h.dispatcher.Handle(r.Context(), bot.Input{
		EventID:        action.OpenMessageID,
		ConversationID: action.ChatID,
		Sender:         action.OpenID,
		Form:           &form,
	})
	if outcome.Err != nil {
		h.log.Error("card command failed",
			zap.String("message_id", action.OpenMessageID), zap.Error(outcome.Err))
	}
	writeJSON(w, http.StatusOK, ackDTO{Code: 0})
}

// isSummaryRequest matches the handful of phrasings that ask for the
// stock overview instead of recording a movement.
func isSummaryRequest(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "summary", "stock", "stock summary", "inventory", "库存":
		return true
	}
	return false
}

// sendSummary pushes the paginated stock summary cards into a chat.
func (h *Handler) sendSummary(ctx context.Context, chatID string) {
	if chatID == "" || h.cards == nil {
		return
	}
	for _, card := range feishu.SummaryCards(h.ldg.Summary()) {
		if err := h.cards.SendCard(ctx, chatID, card); err != nil {
			h.log.Warn("failed to send summary card", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
	}
}

// welcome pushes the entry-form card into a chat the bot just joined.
func (h *Handler) welcome(ctx context.Context, chatID string) {
	if chatID == "" || h.cards == nil {
		return
	}
	card := feishu.EntryFormCard(h.ldg.Products())
	if err := h.cards.SendCard(ctx, chatID, card); err != nil {
		h.log.Warn("failed to send welcome card", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListProducts returns the catalog with current on-hand counts.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.ldg.Products()
	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out = append(out, toProductDTO(p, h.ldg.OnHand(p.ID)))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetLayers returns a product's cost layers in consumption order.
func (h *Handler) GetLayers(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))
	if _, ok := h.ldg.Product(id); !ok {
		writeError(w, http.StatusNotFound, "unknown product")
		return
	}
	layers := h.ldg.LayersFor(id)
	out := make([]LayerDTO, 0, len(layers))
	for _, l := range layers {
		out = append(out, toLayerDTO(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSummary returns the per-product stock summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summaries := h.ldg.Summary()
	out := make([]SummaryDTO, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, toSummaryDTO(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTransactions returns recent transactions, newest first. The limit
// query parameter caps the page (default 50, max 500).
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if h.txs == nil {
		writeError(w, http.StatusNotFound, "transaction history not available for this store")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}
	txs, err := h.txs.Transactions(r.Context(), limit)
	if err != nil {
		h.log.Error("failed to list transactions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "transaction history unavailable")
		return
	}
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorDTO{Error: msg})
}

func decodeStatus(err error) int {
	if errors.Is(err, feishu.ErrTokenMismatch) {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}
