/*
sheet.go - Spreadsheet-backed RowStore

PURPOSE:
  Persists the ledger in three sheets of one spreadsheet:

    products      | id | name | category | unit |
    layers        | layer_id | product_id | unit_cost | qty | remaining | created_at | origin_tx |
    transactions  | tx_id | kind | product_id | qty | unit_cost | unit_price | cogs | profit | created_at | key | actor | note | consumed |

  Row one of each sheet is a header. Transactions are append-only; layer
  rows are updated in place as consumption draws them down, so exhausted
  layers stay visible with remaining = 0.

ROW ADDRESSING:
  The values API has no upsert; updating a layer needs its row number.
  The store keeps a layer_id -> row index, refreshed on every full read,
  and appends rows it has never seen. The dispatcher serializes writes
  per product, so the index cannot go stale between plan and write for
  the same product.

SEE ALSO:
  - client.go: Token handling and the code/msg envelope
  - ledger/store.go: The RowStore contract this satisfies
*/
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stockline/inventory-bot/ledger"
)

// layerHeaderRows is the offset from slice index to 1-based sheet row.
const layerHeaderRows = 1

// TableConfig names the spreadsheet and the sheet id of each table.
type TableConfig struct {
	SpreadsheetToken  string
	ProductsSheet     string
	LayersSheet       string
	TransactionsSheet string
}

type SheetStore struct {
	client *Client
	cfg    TableConfig
	log    *zap.Logger

	mu        sync.Mutex
	layerRows map[ledger.LayerID]int // 1-based sheet row per known layer
	lastRow   int                    // last occupied data row in the layers sheet
}

func NewSheetStore(client *Client, cfg TableConfig, log *zap.Logger) *SheetStore {
	return &SheetStore{
		client:    client,
		cfg:       cfg,
		log:       log,
		layerRows: make(map[ledger.LayerID]int),
	}
}

var _ ledger.RowStore = (*SheetStore)(nil)

// =============================================================================
// VALUES API
// =============================================================================

type valueRange struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type readValuesData struct {
	ValueRange valueRange `json:"valueRange"`
}

func (s *SheetStore) readValues(ctx context.Context, sheetID, cellRange string) ([][]any, error) {
	path := fmt.Sprintf("/sheets/v2/spreadsheets/%s/values/%s",
		url.PathEscape(s.cfg.SpreadsheetToken),
		url.PathEscape(sheetID+"!"+cellRange))
	var data readValuesData
	if err := s.client.call(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	return data.ValueRange.Values, nil
}

func (s *SheetStore) writeValues(ctx context.Context, method, endpoint, sheetID, cellRange string, values [][]any) error {
	path := fmt.Sprintf("/sheets/v2/spreadsheets/%s/%s",
		url.PathEscape(s.cfg.SpreadsheetToken), endpoint)
	payload := map[string]valueRange{
		"valueRange": {Range: sheetID + "!" + cellRange, Values: values},
	}
	return s.client.call(ctx, method, path, payload, nil)
}

func (s *SheetStore) appendRow(ctx context.Context, sheetID string, row []any) error {
	return s.writeValues(ctx, http.MethodPost, "values_append", sheetID, "A1", [][]any{row})
}

func (s *SheetStore) updateRow(ctx context.Context, sheetID string, rowNum int, row []any) error {
	cellRange := fmt.Sprintf("A%d:%c%d", rowNum, 'A'+len(row)-1, rowNum)
	return s.writeValues(ctx, http.MethodPut, "values", sheetID, cellRange, [][]any{row})
}

// =============================================================================
// ROWSTORE: READS
// =============================================================================

func (s *SheetStore) Products(ctx context.Context) ([]ledger.Product, error) {
	rows, err := s.readValues(ctx, s.cfg.ProductsSheet, "A:D")
	if err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	var out []ledger.Product
	for i, row := range rows {
		if i == 0 || isBlank(row) {
			continue
		}
		out = append(out, ledger.Product{
			ID:       ledger.ProductID(cell(row, 0)),
			Name:     cell(row, 1),
			Category: cell(row, 2),
			Unit:     cell(row, 3),
		})
	}
	return out, nil
}

func (s *SheetStore) OpenLayers(ctx context.Context, id ledger.ProductID) ([]ledger.CostLayer, error) {
	rows, err := s.readValues(ctx, s.cfg.LayersSheet, "A:G")
	if err != nil {
		return nil, fmt.Errorf("read layers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.layerRows = make(map[ledger.LayerID]int, len(rows))
	s.lastRow = len(rows)

	var out []ledger.CostLayer
	for i, row := range rows {
		if i == 0 || isBlank(row) {
			continue
		}
		layer, err := parseLayerRow(row)
		if err != nil {
			return nil, fmt.Errorf("layers row %d: %w", i+layerHeaderRows, err)
		}
		s.layerRows[layer.ID] = i + layerHeaderRows
		if layer.ProductID == id {
			out = append(out, layer)
		}
	}
	return out, nil
}

// =============================================================================
// ROWSTORE: WRITES
// =============================================================================

func (s *SheetStore) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	consumed := "[]"
	if len(tx.Consumed) > 0 {
		raw, err := json.Marshal(tx.Consumed)
		if err != nil {
			return err
		}
		consumed = string(raw)
	}
	row := []any{
		string(tx.ID),
		string(tx.Kind),
		string(tx.ProductID),
		strconv.FormatInt(tx.Quantity, 10),
		moneyCell(tx.UnitCost),
		moneyCell(tx.UnitPrice),
		tx.CostOfGoods().String(),
		moneyCell(tx.Profit),
		tx.CreatedAt.UTC().Format(time.RFC3339),
		tx.IdempotencyKey,
		tx.Actor,
		tx.Note,
		consumed,
	}
	if err := s.appendRow(ctx, s.cfg.TransactionsSheet, row); err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	return nil
}

func (s *SheetStore) UpsertLayer(ctx context.Context, layer ledger.CostLayer) error {
	row := []any{
		string(layer.ID),
		string(layer.ProductID),
		layer.UnitCost.String(),
		strconv.FormatInt(layer.Quantity, 10),
		strconv.FormatInt(layer.Remaining, 10),
		layer.CreatedAt.UTC().Format(time.RFC3339),
		string(layer.OriginTx),
	}

	s.mu.Lock()
	rowNum, known := s.layerRows[layer.ID]
	s.mu.Unlock()

	if known {
		if err := s.updateRow(ctx, s.cfg.LayersSheet, rowNum, row); err != nil {
			return fmt.Errorf("update layer %s: %w", layer.ID, err)
		}
		return nil
	}

	if err := s.appendRow(ctx, s.cfg.LayersSheet, row); err != nil {
		return fmt.Errorf("append layer %s: %w", layer.ID, err)
	}
	// lastRow counts the header, so the appended row lands at lastRow+1.
	// OpenLayers runs at rebuild before any write, seeding the counter.
	s.mu.Lock()
	s.lastRow++
	s.layerRows[layer.ID] = s.lastRow
	s.mu.Unlock()
	return nil
}

// =============================================================================
// CELL PARSING
// =============================================================================

func parseLayerRow(row []any) (ledger.CostLayer, error) {
	cost, err := decimal.NewFromString(cell(row, 2))
	if err != nil {
		return ledger.CostLayer{}, fmt.Errorf("unit_cost: %w", err)
	}
	quantity, err := strconv.ParseInt(cell(row, 3), 10, 64)
	if err != nil {
		return ledger.CostLayer{}, fmt.Errorf("quantity: %w", err)
	}
	remaining, err := strconv.ParseInt(cell(row, 4), 10, 64)
	if err != nil {
		return ledger.CostLayer{}, fmt.Errorf("remaining: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, cell(row, 5))
	if err != nil {
		return ledger.CostLayer{}, fmt.Errorf("created_at: %w", err)
	}
	return ledger.CostLayer{
		ID:        ledger.LayerID(cell(row, 0)),
		ProductID: ledger.ProductID(cell(row, 1)),
		UnitCost:  cost,
		Quantity:  quantity,
		Remaining: remaining,
		CreatedAt: createdAt,
		OriginTx:  ledger.TransactionID(cell(row, 6)),
	}, nil
}

// cell stringifies one spreadsheet value; the API returns strings for
// text cells and float64 for numeric ones.
func cell(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func moneyCell(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func isBlank(row []any) bool {
	for i := range row {
		if cell(row, i) != "" {
			return false
		}
	}
	return true
}
