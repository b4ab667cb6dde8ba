// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricedb

import (
	"context"
	"sync"
	"testing"

	"marketpulse/config"
	"marketpulse/pricing"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
	"github.com/stretchr/testify/assert"
)

func configStoreWithDriver(driver string) config.StoreConfig {
	c := config.NewConfig()
	c.Store.Driver = driver
	return c.Store
}

func liveState() pricing.State {
	return pricing.State{Kind: pricing.StateLive, CanIngest: true, CanOverwrite: true, Reference: pricing.RefPreviousClose}
}

func weekendState() pricing.State {
	return pricing.State{Kind: pricing.StateWeekendFrozen, UseFrozen: true, Reference: pricing.RefRegularClose}
}

func TestMemoryStoreCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	existing, err := s.Existing(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, existing)

	committed, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price:     decimal.New(15000, 2),
		Source:    stockval.SourceLastTrade,
		Timestamp: 1000,
	})
	assert.NoError(t, err)
	assert.True(t, committed)

	existing, err = s.Existing(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, int64(1000), existing.Timestamp)
	assert.Equal(t, 0, decimal.New(15000, 2).CmpTotal(existing.Price))
}

func TestMemoryStoreCommitMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price: decimal.New(150, 0), Timestamp: 2000,
	})
	assert.NoError(t, err)

	// Older and equal timestamps never replace the stored record.
	committed, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price: decimal.New(151, 0), Timestamp: 1000,
	})
	assert.NoError(t, err)
	assert.False(t, committed)
	committed, err = s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price: decimal.New(151, 0), Timestamp: 2000,
	})
	assert.NoError(t, err)
	assert.False(t, committed)

	existing, err := s.Existing(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, 0, decimal.New(150, 0).CmpTotal(existing.Price))
}

func TestMemoryStoreCommitFrozenState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price: decimal.New(150, 0), Timestamp: 1000,
	})
	assert.NoError(t, err)

	// A newer candidate during a frozen state is still rejected.
	committed, err := s.Commit(ctx, "AAPL", weekendState(), &stockval.EffectivePrice{
		Price: decimal.New(160, 0), Timestamp: 5000,
	})
	assert.NoError(t, err)
	assert.False(t, committed)
}

func TestMemoryStoreCommitReplacesGarbage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := s.ticker("AAPL")
	r.existing = &stockval.PriceRecord{Price: new(decimal.Big), Timestamp: 9000}

	// A zero stored price is replaced even by an older candidate.
	committed, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
		Price: decimal.New(150, 0), Timestamp: 1000,
	})
	assert.NoError(t, err)
	assert.True(t, committed)
}

func TestMemoryStoreCommitConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			_, err := s.Commit(ctx, "AAPL", liveState(), &stockval.EffectivePrice{
				Price: decimal.New(ts, 0), Timestamp: ts,
			})
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	// Whatever the interleaving, the stored record is the newest.
	existing, err := s.Existing(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, int64(100), existing.Timestamp)
}

func TestMemoryStoreFrozenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	frozen, err := s.Frozen(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, frozen)

	err = s.SetFrozen(ctx, "AAPL", stockval.FrozenPrice{Price: decimal.New(150, 0), Timestamp: 1000})
	assert.NoError(t, err)
	frozen, err = s.Frozen(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, int64(1000), frozen.Timestamp)
	assert.Equal(t, 0, decimal.New(150, 0).CmpTotal(frozen.Price))
}

func TestMemoryStoreReferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	refs, err := s.References(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Nil(t, refs.PreviousClose)

	err = s.SetReferences(ctx, "AAPL", stockval.ReferencePrices{
		PreviousClose: decimal.New(158, 0),
		RegularClose:  decimal.New(160, 0),
		TradingDay:    "2023-08-09",
	})
	assert.NoError(t, err)
	refs, err = s.References(ctx, "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, "2023-08-09", refs.TradingDay)
	assert.Equal(t, 0, decimal.New(158, 0).CmpTotal(refs.PreviousClose))
	assert.Equal(t, 0, decimal.New(160, 0).CmpTotal(refs.RegularClose))
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(context.Background(), configStoreWithDriver("sqlite"))
	assert.Error(t, err)
}

func TestNewStoreMemory(t *testing.T) {
	s, err := NewStore(context.Background(), configStoreWithDriver("memory"))
	assert.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
