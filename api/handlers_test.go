package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/bot"
	"github.com/stockline/inventory-bot/completion"
	"github.com/stockline/inventory-bot/feishu"
	"github.com/stockline/inventory-bot/ledger"
	"github.com/stockline/inventory-bot/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type stubExtractor struct {
	candidate completion.Candidate
	err       error
}

func (s *stubExtractor) Extract(context.Context, string, string) (completion.Candidate, error) {
	return s.candidate, s.err
}

type stubNotifier struct{ sent []string }

func (s *stubNotifier) Notify(_ context.Context, _ string, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

type stubCardSender struct{ cards []feishu.Card }

func (s *stubCardSender) SendCard(_ context.Context, _ string, card feishu.Card) error {
	s.cards = append(s.cards, card)
	return nil
}

// txLister adapts the in-memory store's transaction log to the admin
// history contract, newest first.
type txLister struct{ st *memory.Store }

func (l txLister) Transactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	txs := l.st.Transactions()
	out := make([]ledger.Transaction, 0, limit)
	for i := len(txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, txs[i])
	}
	return out, nil
}

type fixture struct {
	server    *httptest.Server
	ledger    *ledger.Ledger
	notifier  *stubNotifier
	cards     *stubCardSender
	extractor *stubExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()

	ldg := ledger.NewLedger()
	ldg.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget", Unit: "pc"})

	st := memory.New()
	applier := ledger.NewApplier(ldg, st, log)
	seed := ledger.Command{
		Kind: ledger.KindInbound, ProductID: "prod-1", Quantity: 10,
		UnitCost: ledger.MoneyPtr("5"), IdempotencyKey: "seed-1",
	}
	_, err := applier.Apply(context.Background(), seed)
	require.NoError(t, err)

	ex := &stubExtractor{}
	notifier := &stubNotifier{}
	dispatcher := bot.NewDispatcher(
		bot.NewNormalizer(ldg, ex, log), bot.NewGate(), applier, ldg, notifier, log)

	cards := &stubCardSender{}
	handler := NewHandler(dispatcher, feishu.NewDecoder("tok-1", ""), ldg, cards, txLister{st}, log)
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)

	return &fixture{server: srv, ledger: ldg, notifier: notifier, cards: cards, extractor: ex}
}

func (f *fixture) post(t *testing.T, path string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func messageBody(eventID, text string) string {
	content, _ := json.Marshal(map[string]string{"text": text})
	return fmt.Sprintf(`{
		"schema": "2.0",
		"header": {"event_id": %q, "event_type": "im.message.receive_v1", "token": "tok-1"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_user"}},
			"message": {"message_id": "om_1", "chat_id": "oc_chat", "message_type": "text", "content": %q}
		}
	}`, eventID, string(content))
}

// =============================================================================
// WEBHOOK: EVENTS
// =============================================================================

func TestHandleEvent_URLVerification(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhook/event",
		`{"type":"url_verification","challenge":"ch-1","token":"tok-1"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body challengeDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ch-1", body.Challenge)
}

func TestHandleEvent_MessageRunsPipeline(t *testing.T) {
	f := newFixture(t)
	f.extractor.candidate = completion.Candidate{
		Kind: "outbound", Product: "widget", Quantity: "3", UnitPrice: "9",
	}

	resp := f.post(t, "/webhook/event", messageBody("evt-1", "sold 3 widgets at 9"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 7, f.ledger.OnHand("prod-1"))
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "Recorded outbound")
}

func TestHandleEvent_RedeliveryDoesNotDoubleApply(t *testing.T) {
	f := newFixture(t)
	f.extractor.candidate = completion.Candidate{
		Kind: "outbound", Product: "widget", Quantity: "3",
	}

	f.post(t, "/webhook/event", messageBody("evt-1", "take 3 widgets"))
	f.post(t, "/webhook/event", messageBody("evt-1", "take 3 widgets"))

	assert.EqualValues(t, 7, f.ledger.OnHand("prod-1"))
	require.Len(t, f.notifier.sent, 2)
	assert.Contains(t, f.notifier.sent[1], "already processed")
}

func TestHandleEvent_TokenMismatch(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhook/event", messageBody("evt-1", "x"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.post(t, "/webhook/event",
		`{"type":"url_verification","challenge":"ch","token":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleEvent_SummaryRequestSendsCards(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhook/event", messageBody("evt-s", "stock summary"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.cards.cards, 1)
	assert.Empty(t, f.notifier.sent, "summary goes out as cards, not a text reply")
	assert.EqualValues(t, 10, f.ledger.OnHand("prod-1"), "nothing recorded")
}

func TestHandleEvent_BotAddedSendsEntryForm(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhook/event", `{
		"schema": "2.0",
		"header": {"event_id": "evt-2", "event_type": "im.chat.member.bot.added_v1", "token": "tok-1"},
		"event": {"chat_id": "oc_new"}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, f.cards.cards, 1)
}

// =============================================================================
// WEBHOOK: CARD ACTIONS
// =============================================================================

func TestHandleCardAction_FormSubmission(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhook/card", `{
		"open_id": "ou_user",
		"token": "tok-1",
		"open_chat_id": "oc_chat",
		"open_message_id": "om_card_1",
		"action": {"value": {"kind": "inbound", "productId": "prod-1", "quantity": 4, "unitCost": "6"}}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 14, f.ledger.OnHand("prod-1"))
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "Recorded inbound")
}

func TestHandleCardAction_IncompleteFormRepliesNicely(t *testing.T) {
	f := newFixture(t)

	// Quick-submit button with no quantity yet.
	resp := f.post(t, "/webhook/card", `{
		"open_id": "ou_user",
		"token": "tok-1",
		"open_chat_id": "oc_chat",
		"open_message_id": "om_card_2",
		"action": {"value": {"kind": "outbound", "productId": "prod-1"}}
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 10, f.ledger.OnHand("prod-1"), "nothing applied")
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "quantity")
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdmin_ProductsAndLayers(t *testing.T) {
	f := newFixture(t)

	var products []ProductDTO
	resp := f.get(t, "/api/products", &products)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, products, 1)
	assert.EqualValues(t, 10, products[0].OnHand)

	var layers []LayerDTO
	resp = f.get(t, "/api/products/prod-1/layers", &layers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, layers, 1)
	assert.Equal(t, "5", layers[0].UnitCost)

	resp = f.get(t, "/api/products/nope/layers", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin_Summary(t *testing.T) {
	f := newFixture(t)

	var summary []SummaryDTO
	resp := f.get(t, "/api/summary", &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, summary, 1)
	assert.Equal(t, "widget", summary[0].Name)
	assert.EqualValues(t, 10, summary[0].OnHand)
}

func TestAdmin_Transactions(t *testing.T) {
	f := newFixture(t)
	f.extractor.candidate = completion.Candidate{
		Kind: "outbound", Product: "widget", Quantity: "3", UnitPrice: "9",
	}
	f.post(t, "/webhook/event", messageBody("evt-1", "sold 3 widgets at 9"))

	var txs []TransactionDTO
	resp := f.get(t, "/api/transactions", &txs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, txs, 2)

	assert.Equal(t, "outbound", txs[0].Kind, "newest first")
	assert.Equal(t, "12", txs[0].Profit)
	assert.Equal(t, "15", txs[0].CostOfGoods)
	require.Len(t, txs[0].Consumed, 1)
	assert.Equal(t, "5", txs[0].Consumed[0].UnitCost)
	assert.Equal(t, "inbound", txs[1].Kind)

	txs = nil
	resp = f.get(t, "/api/transactions?limit=1", &txs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, txs, 1)

	resp = f.get(t, "/api/transactions?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_TransactionsUnavailableWithoutLister(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	rec := httptest.NewRecorder()

	h.ListTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
