// Package memory provides an in-memory RowStore for testing and dev.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/stockline/inventory-bot/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory RowStore implementation
// =============================================================================

type Store struct {
	mu       sync.RWMutex
	products map[ledger.ProductID]ledger.Product
	layers   map[ledger.ProductID]map[ledger.LayerID]ledger.CostLayer
	txs      []ledger.Transaction
}

func New() *Store {
	return &Store{
		products: make(map[ledger.ProductID]ledger.Product),
		layers:   make(map[ledger.ProductID]map[ledger.LayerID]ledger.CostLayer),
	}
}

// PutProduct seeds a catalog entry. Not part of the RowStore interface;
// the catalog is managed out of band (spreadsheet rows, test fixtures).
func (s *Store) PutProduct(_ context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *Store) Products(_ context.Context) ([]ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) OpenLayers(_ context.Context, id ledger.ProductID) ([]ledger.CostLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.layers[id]
	out := make([]ledger.CostLayer, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *Store) UpsertLayer(_ context.Context, layer ledger.CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.layers[layer.ProductID]
	if !ok {
		byID = make(map[ledger.LayerID]ledger.CostLayer)
		s.layers[layer.ProductID] = byID
	}
	byID[layer.ID] = layer
	return nil
}

// Transactions returns a copy of everything appended so far (test helper).
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Transaction, len(s.txs))
	copy(out, s.txs)
	return out
}

var _ ledger.RowStore = (*Store)(nil)
