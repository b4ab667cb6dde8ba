// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"marketpulse/stockval"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

// ReferenceCache holds previous/regular close prices per symbol with an
// explicit lifetime. Entries do not refresh themselves; callers evict or
// overwrite stale entries after a failed Get.
type ReferenceCache struct {
	entries *skipmap.StringMap[referenceEntry]
	ttl     time.Duration
	clock   func() time.Time
}

type referenceEntry struct {
	refs     stockval.ReferencePrices
	storedAt time.Time
}

func NewReferenceCache(ttl time.Duration, clock func() time.Time) *ReferenceCache {
	if clock == nil {
		clock = time.Now
	}
	return &ReferenceCache{
		entries: skipmap.NewString[referenceEntry](),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the cached reference prices for symbol. Entries older than the
// cache ttl are treated as missing and removed.
func (c *ReferenceCache) Get(symbol string) (stockval.ReferencePrices, bool) {
	e, ok := c.entries.Load(symbol)
	if !ok {
		return stockval.ReferencePrices{}, false
	}
	if c.ttl > 0 && c.clock().Sub(e.storedAt) >= c.ttl {
		c.entries.Delete(symbol)
		return stockval.ReferencePrices{}, false
	}
	return e.refs, true
}

func (c *ReferenceCache) Set(symbol string, refs stockval.ReferencePrices) {
	c.entries.Store(symbol, referenceEntry{refs: refs, storedAt: c.clock()})
}

func (c *ReferenceCache) Evict(symbol string) {
	c.entries.Delete(symbol)
}
