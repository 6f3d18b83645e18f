package bot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/bot"
	"github.com/stockline/inventory-bot/completion"
	"github.com/stockline/inventory-bot/ledger"
	"github.com/stockline/inventory-bot/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// recordingNotifier captures every reply; fails on demand.
type recordingNotifier struct {
	sent []string
	fail error
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, text string) error {
	r.sent = append(r.sent, text)
	return r.fail
}

// flakyStore wraps a RowStore and fails AppendTransaction while tripped.
type flakyStore struct {
	ledger.RowStore
	tripped bool
}

var errStoreOutage = errors.New("store outage")

func (f *flakyStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	if f.tripped {
		return errStoreOutage
	}
	return f.RowStore.AppendTransaction(ctx, tx)
}

type pipeline struct {
	dispatcher *bot.Dispatcher
	ledger     *ledger.Ledger
	store      *memory.Store
	flaky      *flakyStore
	notifier   *recordingNotifier
	extractor  *fakeExtractor
}

// newPipeline wires a full dispatcher over an in-memory store, with
// prod-1 "widget" holding 10 units at cost 5.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	log := zap.NewNop()

	ldg := ledger.NewLedger()
	ldg.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget", Unit: "pc"})
	ldg.RegisterProduct(ledger.Product{ID: "prod-2", Name: "gadget", Unit: "pc"})

	st := memory.New()
	require.NoError(t, st.PutProduct(context.Background(), ledger.Product{ID: "prod-1", Name: "widget", Unit: "pc"}))
	require.NoError(t, st.PutProduct(context.Background(), ledger.Product{ID: "prod-2", Name: "gadget", Unit: "pc"}))
	flaky := &flakyStore{RowStore: st}

	applier := ledger.NewApplier(ldg, flaky, log)

	seed := ledger.Command{
		Kind: ledger.KindInbound, ProductID: "prod-1", Quantity: 10,
		UnitCost: ledger.MoneyPtr("5"), IdempotencyKey: "seed-1", Actor: "seeder",
	}
	_, err := applier.Apply(context.Background(), seed)
	require.NoError(t, err)

	ex := &fakeExtractor{}
	notifier := &recordingNotifier{}
	d := bot.NewDispatcher(
		bot.NewNormalizer(ldg, ex, log),
		bot.NewGate(), applier, ldg, notifier, log,
	)
	return &pipeline{dispatcher: d, ledger: ldg, store: st, flaky: flaky, notifier: notifier, extractor: ex}
}

func formInput(eventID string, form bot.FormSubmission) bot.Input {
	return bot.Input{
		EventID: eventID, ConversationID: "chat-1", Sender: "user-1", Form: &form,
	}
}

// =============================================================================
// HAPPY PATHS
// =============================================================================

func TestDispatcher_InboundCommits(t *testing.T) {
	p := newPipeline(t)

	out := p.dispatcher.Handle(context.Background(), formInput("evt-1", bot.FormSubmission{
		Kind: "inbound", ProductID: "prod-1", Quantity: 5, UnitCost: "8",
	}))

	require.NoError(t, out.Err)
	require.NotNil(t, out.Tx)
	assert.False(t, out.Duplicate)
	assert.EqualValues(t, 15, p.ledger.OnHand("prod-1"))
	assert.Contains(t, out.Reply, "Recorded inbound: 5 x widget @ 8.00")
	assert.Equal(t, []string{out.Reply}, p.notifier.sent)
}

func TestDispatcher_OutboundReportsProfit(t *testing.T) {
	p := newPipeline(t)

	// 3 units sold at 9 against the 10-unit layer at cost 5: profit 12.
	out := p.dispatcher.Handle(context.Background(), formInput("evt-1", bot.FormSubmission{
		Kind: "outbound", ProductID: "prod-1", Quantity: 3, UnitPrice: "9",
	}))

	require.NoError(t, out.Err)
	require.NotNil(t, out.Tx)
	require.NotNil(t, out.Tx.Profit)
	assert.True(t, out.Tx.Profit.Equal(ledger.Money("12")))
	assert.Contains(t, out.Reply, "profit 12.00")
	assert.EqualValues(t, 7, p.ledger.OnHand("prod-1"))
}

func TestDispatcher_FreeTextPath(t *testing.T) {
	p := newPipeline(t)
	p.extractor.candidate = completion.Candidate{
		Kind: "outbound", Product: "widget", Quantity: "2", UnitPrice: "6",
	}

	out := p.dispatcher.Handle(context.Background(), bot.Input{
		EventID: "evt-1", ConversationID: "chat-1", Sender: "user-1",
		Text: "sold two widgets at 6",
	})

	require.NoError(t, out.Err)
	require.NotNil(t, out.Tx)
	assert.Equal(t, "sold two widgets at 6", out.Tx.Note)
	assert.EqualValues(t, 8, p.ledger.OnHand("prod-1"))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestDispatcher_DuplicateDeliveryReplaysResult(t *testing.T) {
	// GIVEN a committed outbound
	p := newPipeline(t)
	in := formInput("evt-1", bot.FormSubmission{
		Kind: "outbound", ProductID: "prod-1", Quantity: 3, UnitPrice: "9",
	})
	first := p.dispatcher.Handle(context.Background(), in)
	require.NoError(t, first.Err)

	// WHEN the transport redelivers the same event
	second := p.dispatcher.Handle(context.Background(), in)

	// THEN the ledger is not touched again and the prior result replays
	assert.True(t, second.Duplicate)
	require.NotNil(t, second.Tx)
	assert.Equal(t, first.Tx.ID, second.Tx.ID)
	assert.Equal(t, "(already processed) "+first.Reply, second.Reply)
	assert.EqualValues(t, 7, p.ledger.OnHand("prod-1"))
	assert.Len(t, p.store.Transactions(), 2, "seed plus one outbound, not two")
}

func TestDispatcher_DuplicateOfRejectionReplaysRejection(t *testing.T) {
	p := newPipeline(t)
	in := formInput("evt-1", bot.FormSubmission{
		Kind: "outbound", ProductID: "prod-1", Quantity: 50,
	})

	first := p.dispatcher.Handle(context.Background(), in)
	second := p.dispatcher.Handle(context.Background(), in)

	assert.Contains(t, first.Reply, "Not enough stock")
	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Tx)
	assert.Equal(t, "(already processed) "+first.Reply, second.Reply)
	assert.EqualValues(t, 10, p.ledger.OnHand("prod-1"))
}

// =============================================================================
// FAILURE PATHS
// =============================================================================

func TestDispatcher_NormalizationFailureNeverReachesApplier(t *testing.T) {
	p := newPipeline(t)
	p.extractor.err = completion.ErrMalformed

	out := p.dispatcher.Handle(context.Background(), bot.Input{
		EventID: "evt-1", ConversationID: "chat-1", Sender: "user-1",
		Text: "good morning",
	})

	assert.Nil(t, out.Tx)
	assert.NotEmpty(t, out.Reply)
	assert.EqualValues(t, 10, p.ledger.OnHand("prod-1"), "ledger untouched")
	assert.Len(t, p.store.Transactions(), 1, "seed only")
}

func TestDispatcher_PersistenceFailureReleasesKeyForRetry(t *testing.T) {
	// GIVEN a store outage on the first delivery
	p := newPipeline(t)
	p.flaky.tripped = true
	in := formInput("evt-1", bot.FormSubmission{
		Kind: "outbound", ProductID: "prod-1", Quantity: 3, UnitPrice: "9",
	})

	first := p.dispatcher.Handle(context.Background(), in)

	require.ErrorIs(t, first.Err, ledger.ErrPersistence)
	assert.Nil(t, first.Tx)
	assert.Contains(t, first.Reply, "nothing was recorded")
	assert.EqualValues(t, 10, p.ledger.OnHand("prod-1"), "mutation rolled back")

	// WHEN the store recovers and the transport redelivers
	p.flaky.tripped = false
	second := p.dispatcher.Handle(context.Background(), in)

	// THEN the redelivery is admitted fresh and commits
	require.NoError(t, second.Err)
	assert.False(t, second.Duplicate)
	require.NotNil(t, second.Tx)
	assert.EqualValues(t, 7, p.ledger.OnHand("prod-1"))
}

func TestDispatcher_NotificationFailureDoesNotFailCommand(t *testing.T) {
	p := newPipeline(t)
	p.notifier.fail = errors.New("chat surface down")

	out := p.dispatcher.Handle(context.Background(), formInput("evt-1", bot.FormSubmission{
		Kind: "inbound", ProductID: "prod-1", Quantity: 5, UnitCost: "8",
	}))

	require.NoError(t, out.Err, "the ledger committed; delivery is best effort")
	require.NotNil(t, out.Tx)
	assert.EqualValues(t, 15, p.ledger.OnHand("prod-1"))
}

func TestDispatcher_CompletionOutageIsNotTerminal(t *testing.T) {
	// An unavailable extractor must not poison the idempotency key: the
	// normalizer fails before admission, so a retry can still succeed.
	p := newPipeline(t)
	p.extractor.err = completion.ErrUnavailable

	in := bot.Input{
		EventID: "evt-1", ConversationID: "chat-1", Sender: "user-1",
		Text: "sold 2 widgets",
	}
	first := p.dispatcher.Handle(context.Background(), in)
	assert.Contains(t, first.Reply, "temporarily unavailable")

	p.extractor.err = nil
	p.extractor.candidate = completion.Candidate{Kind: "outbound", Product: "widget", Quantity: "2"}
	second := p.dispatcher.Handle(context.Background(), in)

	require.NotNil(t, second.Tx)
	assert.False(t, second.Duplicate)
	assert.EqualValues(t, 8, p.ledger.OnHand("prod-1"))
}
