package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/ledger"
	"github.com/stockline/inventory-bot/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestApplier(t *testing.T) (*ledger.Applier, *ledger.Ledger, *memory.Store) {
	t.Helper()
	l := ledger.NewLedger()
	l.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget", Unit: "piece"})
	st := memory.New()
	return ledger.NewApplier(l, st, zap.NewNop()), l, st
}

func inbound(qty int64, cost string, key string) ledger.Command {
	return ledger.Command{
		Kind:           ledger.KindInbound,
		ProductID:      "prod-1",
		Quantity:       qty,
		UnitCost:       ledger.MoneyPtr(cost),
		IdempotencyKey: key,
	}
}

func outbound(qty int64, price *string, key string) ledger.Command {
	cmd := ledger.Command{
		Kind:           ledger.KindOutbound,
		ProductID:      "prod-1",
		Quantity:       qty,
		IdempotencyKey: key,
	}
	if price != nil {
		cmd.UnitPrice = ledger.MoneyPtr(*price)
	}
	return cmd
}

func strPtr(s string) *string { return &s }

// failingStore wraps a RowStore and fails selected operations.
type failingStore struct {
	ledger.RowStore
	failAppend bool
	failUpsert bool
	upserts    int
}

var errStoreDown = errors.New("store down")

func (f *failingStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	if f.failAppend {
		return errStoreDown
	}
	return f.RowStore.AppendTransaction(ctx, tx)
}

func (f *failingStore) UpsertLayer(ctx context.Context, layer ledger.CostLayer) error {
	f.upserts++
	if f.failUpsert {
		return errStoreDown
	}
	return f.RowStore.UpsertLayer(ctx, layer)
}

// =============================================================================
// INBOUND
// =============================================================================

func TestApplier_Inbound_OpensLayerAndPersists(t *testing.T) {
	a, l, st := newTestApplier(t)
	ctx := context.Background()

	tx, err := a.Apply(ctx, inbound(10, "5", "evt-1"))
	require.NoError(t, err)

	assert.Equal(t, ledger.KindInbound, tx.Kind)
	assert.Empty(t, tx.Consumed, "inbound has no consumption breakdown")
	assert.Nil(t, tx.Profit, "profit not applicable for inbound")
	assert.Equal(t, "evt-1", tx.IdempotencyKey)

	assert.EqualValues(t, 10, l.OnHand("prod-1"))
	require.Len(t, st.Transactions(), 1)

	layers, err := st.OpenLayers(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, tx.ID, layers[0].OriginTx)
}

func TestApplier_Inbound_Validation(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(0, "5", "evt-1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	cmd := inbound(5, "5", "evt-2")
	cmd.UnitCost = nil
	_, err = a.Apply(ctx, cmd)
	assert.ErrorIs(t, err, ledger.ErrInvalidUnitCost)

	_, err = a.Apply(ctx, inbound(5, "-1", "evt-3"))
	assert.ErrorIs(t, err, ledger.ErrInvalidUnitCost)

	cmd = inbound(5, "5", "evt-4")
	cmd.ProductID = "prod-9"
	_, err = a.Apply(ctx, cmd)
	assert.ErrorIs(t, err, ledger.ErrUnknownProduct)
}

// =============================================================================
// OUTBOUND + PROFIT
// =============================================================================

func TestApplier_Outbound_ProfitAgainstConsumedLayers(t *testing.T) {
	// GIVEN: inbound 10 @ 5 then inbound 10 @ 8
	// WHEN: outbound 12 @ price 9
	// THEN: consumes 10 @ 8 + 2 @ 5, profit = 108 - 90 = 18
	a, l, _ := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(10, "5", "evt-1"))
	require.NoError(t, err)
	_, err = a.Apply(ctx, inbound(10, "8", "evt-2"))
	require.NoError(t, err)

	tx, err := a.Apply(ctx, outbound(12, strPtr("9"), "evt-3"))
	require.NoError(t, err)

	require.Len(t, tx.Consumed, 2)
	assert.EqualValues(t, 10, tx.Consumed[0].Quantity)
	assert.True(t, tx.Consumed[0].UnitCost.Equal(ledger.Money("8")))
	assert.EqualValues(t, 2, tx.Consumed[1].Quantity)
	assert.True(t, tx.Consumed[1].UnitCost.Equal(ledger.Money("5")))

	require.NotNil(t, tx.Profit)
	assert.True(t, tx.Profit.Equal(ledger.Money("18")), "got %s", tx.Profit)
	assert.True(t, tx.CostOfGoods().Equal(ledger.Money("90")))

	assert.EqualValues(t, 8, l.OnHand("prod-1"))
}

func TestApplier_Outbound_WithoutPriceHasNoProfit(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(10, "5", "evt-1"))
	require.NoError(t, err)

	tx, err := a.Apply(ctx, outbound(4, nil, "evt-2"))
	require.NoError(t, err)
	assert.Nil(t, tx.Profit)
	assert.Len(t, tx.Consumed, 1)
}

func TestApplier_Outbound_InsufficientStockDoesNotMutate(t *testing.T) {
	a, l, st := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(5, "5", "evt-1"))
	require.NoError(t, err)
	before := l.LayersFor("prod-1")

	_, err = a.Apply(ctx, outbound(6, strPtr("9"), "evt-2"))
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	assert.Equal(t, before, l.LayersFor("prod-1"))
	assert.Len(t, st.Transactions(), 1, "no outbound transaction recorded")
}

func TestApplier_Outbound_NegativePriceRejected(t *testing.T) {
	a, _, _ := newTestApplier(t)
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(5, "5", "evt-1"))
	require.NoError(t, err)

	_, err = a.Apply(ctx, outbound(1, strPtr("-2"), "evt-2"))
	assert.ErrorIs(t, err, ledger.ErrInvalidUnitPrice)
}

// =============================================================================
// PERSISTENCE FAILURE ROLLBACK
// =============================================================================

func TestApplier_Inbound_PersistenceFailureRollsBackLayer(t *testing.T) {
	l := ledger.NewLedger()
	l.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget"})
	fs := &failingStore{RowStore: memory.New(), failUpsert: true}
	a := ledger.NewApplier(l, fs, zap.NewNop())

	_, err := a.Apply(context.Background(), inbound(10, "5", "evt-1"))

	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.EqualValues(t, 0, l.OnHand("prod-1"), "uncommitted layer removed")
	assert.Empty(t, l.LayersFor("prod-1"))
}

func TestApplier_Inbound_AppendFailureLeavesNoLiveStockRow(t *testing.T) {
	// GIVEN: a store that accepts the layer row but fails the transaction
	//        append
	// WHEN: an inbound batch is applied
	// THEN: the persisted layer row is zeroed, so a rebuild from the store
	//       reproduces the pre-failure ledger instead of resurrecting stock
	l := ledger.NewLedger()
	l.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget"})
	mem := memory.New()
	fs := &failingStore{RowStore: mem, failAppend: true}
	a := ledger.NewApplier(l, fs, zap.NewNop())
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(10, "5", "evt-1"))

	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.EqualValues(t, 0, l.OnHand("prod-1"), "uncommitted layer removed")

	layers, err := mem.OpenLayers(ctx, "prod-1")
	require.NoError(t, err)
	for _, layer := range layers {
		assert.EqualValues(t, 0, layer.Remaining, "no live stock row survives")
	}

	rebuilt := ledger.NewLedger()
	rebuilt.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget"})
	require.NoError(t, rebuilt.Rebuild(ctx, mem))
	assert.EqualValues(t, 0, rebuilt.OnHand("prod-1"), "restart matches the pre-failure ledger")

	// The failure was reported, the gate key released, and the retry is
	// clean: the redelivered command opens a fresh layer.
	fs.failAppend = false
	_, err = a.Apply(ctx, inbound(10, "5", "evt-1"))
	require.NoError(t, err)
	assert.EqualValues(t, 10, l.OnHand("prod-1"))
}

func TestApplier_Outbound_PersistenceFailureRestoresConsumption(t *testing.T) {
	// GIVEN: stock applied through a healthy store
	// WHEN: the append-transaction write fails mid-outbound
	// THEN: consumed quantities are restored and the sum invariant holds
	l := ledger.NewLedger()
	l.RegisterProduct(ledger.Product{ID: "prod-1", Name: "widget"})
	mem := memory.New()
	fs := &failingStore{RowStore: mem}
	a := ledger.NewApplier(l, fs, zap.NewNop())
	ctx := context.Background()

	_, err := a.Apply(ctx, inbound(10, "5", "evt-1"))
	require.NoError(t, err)
	before := l.LayersFor("prod-1")

	fs.failAppend = true
	_, err = a.Apply(ctx, outbound(4, strPtr("9"), "evt-2"))

	require.ErrorIs(t, err, ledger.ErrPersistence)
	var perr *ledger.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "append_transaction", perr.Op)

	assert.Equal(t, before, l.LayersFor("prod-1"), "rollback restores layers")
	assert.EqualValues(t, 10, l.OnHand("prod-1"))

	// The restored layers were re-upserted so the store converged back.
	layers, err := mem.OpenLayers(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.EqualValues(t, 10, layers[0].Remaining)
}
