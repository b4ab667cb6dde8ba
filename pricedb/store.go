// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricedb

import (
	"context"
	"fmt"
	"time"

	"marketpulse/config"
	"marketpulse/pricing"
	"marketpulse/stockval"
)

// Store persists committed prices, frozen prices and reference prices per
// ticker. Commit performs the read-guard-write sequence atomically per
// ticker; concurrent commits for the same symbol are serialized by the store,
// so callers never need their own locking.
type Store interface {
	// Existing returns the committed price record, or nil if none exists.
	Existing(ctx context.Context, symbol string) (*stockval.PriceRecord, error)
	// Frozen returns the retained price for frozen states, or nil.
	Frozen(ctx context.Context, symbol string) (*stockval.FrozenPrice, error)
	SetFrozen(ctx context.Context, symbol string, frozen stockval.FrozenPrice) error
	References(ctx context.Context, symbol string) (stockval.ReferencePrices, error)
	SetReferences(ctx context.Context, symbol string, refs stockval.ReferencePrices) error
	// Commit stores candidate if the overwrite guard allows it under the
	// given state, and reports whether the record was replaced.
	Commit(ctx context.Context, symbol string, st pricing.State, candidate *stockval.EffectivePrice) (bool, error)
	Close()
}

// NewStore creates the price store selected by the configuration.
func NewStore(ctx context.Context, c config.StoreConfig) (Store, error) {
	switch c.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, c.ConnString)
	case "redis":
		return NewRedisStore(ctx, c.Redis.Addr, c.Redis.Password, c.Redis.DB,
			time.Duration(c.Redis.TTLSeconds)*time.Second)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
}
