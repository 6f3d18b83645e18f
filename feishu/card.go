/*
card.go - Interactive card rendering

PURPOSE:
  Builds the two interactive cards the bot sends:

    1. Entry form: kind selector, product selector, quantity and money
       inputs, one submit button. The button carries the form payload
       back through the card action callback.
    2. Stock summary: one row per product (on hand, open layers,
       weighted average cost). The platform rejects cards past an
       element ceiling, so long catalogs are split into a numbered
       card series instead of dropping rows.

SEE ALSO:
  - webhook.go: Decodes the submitted form on the way back in
*/
package feishu

import (
	"fmt"

	"github.com/stockline/inventory-bot/ledger"
)

// cardElementCeiling is the per-card element limit enforced upstream.
// Kept below the documented maximum to leave room for header rows.
const cardElementCeiling = 50

// =============================================================================
// CARD STRUCTURE
// =============================================================================

type Card struct {
	Config   cardConfig `json:"config"`
	Header   cardHeader `json:"header"`
	Elements []any      `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type cardHeader struct {
	Title    cardText `json:"title"`
	Template string   `json:"template"`
}

type cardText struct {
	Tag     string `json:"tag"` // "plain_text" or "lark_md"
	Content string `json:"content"`
}

type cardDiv struct {
	Tag  string   `json:"tag"` // "div"
	Text cardText `json:"text"`
}

type cardHr struct {
	Tag string `json:"tag"` // "hr"
}

type cardAction struct {
	Tag     string       `json:"tag"` // "action"
	Actions []cardButton `json:"actions"`
}

type cardButton struct {
	Tag   string         `json:"tag"` // "button"
	Text  cardText       `json:"text"`
	Type  string         `json:"type"` // "primary", "default"
	Value map[string]any `json:"value"`
}

func markdown(format string, args ...any) cardDiv {
	return cardDiv{Tag: "div", Text: cardText{Tag: "lark_md", Content: fmt.Sprintf(format, args...)}}
}

// =============================================================================
// STOCK SUMMARY
// =============================================================================

// SummaryCards renders per-product stock rows, split into a numbered
// series when the catalog would exceed the element ceiling.
func SummaryCards(summaries []ledger.ProductSummary) []Card {
	if len(summaries) == 0 {
		return []Card{{
			Config:   cardConfig{WideScreenMode: true},
			Header:   summaryHeader("Stock summary"),
			Elements: []any{markdown("No products registered.")},
		}}
	}

	var pages [][]ledger.ProductSummary
	for start := 0; start < len(summaries); start += cardElementCeiling {
		end := start + cardElementCeiling
		if end > len(summaries) {
			end = len(summaries)
		}
		pages = append(pages, summaries[start:end])
	}

	cards := make([]Card, 0, len(pages))
	for i, page := range pages {
		title := "Stock summary"
		if len(pages) > 1 {
			title = fmt.Sprintf("Stock summary (%d/%d)", i+1, len(pages))
		}
		elements := make([]any, 0, len(page)*2)
		for j, s := range page {
			if j > 0 {
				elements = append(elements, cardHr{Tag: "hr"})
			}
			elements = append(elements, markdown(
				"**%s**\nOn hand: %d %s | Open layers: %d | Avg cost: %s",
				s.Product.Name, s.OnHand, s.Product.Unit, s.OpenLayers,
				s.AvgUnitCost.StringFixed(2)))
		}
		cards = append(cards, Card{
			Config:   cardConfig{WideScreenMode: true},
			Header:   summaryHeader(title),
			Elements: elements,
		})
	}
	return cards
}

func summaryHeader(title string) cardHeader {
	return cardHeader{
		Title:    cardText{Tag: "plain_text", Content: title},
		Template: "blue",
	}
}

// =============================================================================
// ENTRY FORM
// =============================================================================

// EntryFormCard renders quick-submit buttons, one pair per product, so
// common movements need no free text. The button value round-trips
// through the card action callback as the form payload skeleton.
func EntryFormCard(products []ledger.Product) Card {
	elements := []any{
		markdown("Pick a movement, then reply with quantity and price, or just type it out."),
	}
	for _, p := range products {
		elements = append(elements, cardAction{
			Tag: "action",
			Actions: []cardButton{
				{
					Tag:  "button",
					Text: cardText{Tag: "plain_text", Content: "Inbound " + p.Name},
					Type: "primary",
					Value: map[string]any{
						"kind":      string(ledger.KindInbound),
						"productId": string(p.ID),
					},
				},
				{
					Tag:  "button",
					Text: cardText{Tag: "plain_text", Content: "Outbound " + p.Name},
					Type: "default",
					Value: map[string]any{
						"kind":      string(ledger.KindOutbound),
						"productId": string(p.ID),
					},
				},
			},
		})
	}
	return Card{
		Config:   cardConfig{WideScreenMode: true},
		Header:   cardHeader{Title: cardText{Tag: "plain_text", Content: "Record a movement"}, Template: "turquoise"},
		Elements: elements,
	}
}
