// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricedb

import (
	"context"
	"sync"

	"marketpulse/pricing"
	"marketpulse/stockval"

	"github.com/zhangyunhao116/skipmap"
)

// MemoryStore keeps all records in process memory. Per-ticker data lives
// behind a per-ticker mutex, so commits for different symbols never contend.
type MemoryStore struct {
	tickers *skipmap.StringMap[*tickerRecord]
}

type tickerRecord struct {
	mu       sync.Mutex
	existing *stockval.PriceRecord
	frozen   *stockval.FrozenPrice
	refs     stockval.ReferencePrices
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickers: skipmap.NewString[*tickerRecord](),
	}
}

func (s *MemoryStore) ticker(symbol string) *tickerRecord {
	r, _ := s.tickers.LoadOrStore(symbol, &tickerRecord{})
	return r
}

func (s *MemoryStore) Existing(ctx context.Context, symbol string) (*stockval.PriceRecord, error) {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existing == nil {
		return nil, nil
	}
	record := *r.existing
	return &record, nil
}

func (s *MemoryStore) Frozen(ctx context.Context, symbol string) (*stockval.FrozenPrice, error) {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen == nil {
		return nil, nil
	}
	frozen := *r.frozen
	return &frozen, nil
}

func (s *MemoryStore) SetFrozen(ctx context.Context, symbol string, frozen stockval.FrozenPrice) error {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = &frozen
	return nil
}

func (s *MemoryStore) References(ctx context.Context, symbol string) (stockval.ReferencePrices, error) {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs, nil
}

func (s *MemoryStore) SetReferences(ctx context.Context, symbol string, refs stockval.ReferencePrices) error {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = refs
	return nil
}

func (s *MemoryStore) Commit(ctx context.Context, symbol string, st pricing.State, candidate *stockval.EffectivePrice) (bool, error) {
	r := s.ticker(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !pricing.CanOverwrite(st, r.existing, candidate) {
		return false, nil
	}
	r.existing = &stockval.PriceRecord{
		Price:     candidate.Price,
		Timestamp: candidate.Timestamp,
		Session:   st.Session(),
	}
	return true, nil
}

func (s *MemoryStore) Close() {
}
