// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"marketpulse/config"
	"marketpulse/stockval"

	"github.com/lotodore/localcache"
	"go.uber.org/zap"
)

const cacheKeyTickers = "tickers"

// Ticker lists change on listings and delistings, a new list per trading
// day is plenty.
const tickerCacheMaxAge = 12 * time.Hour

type localAssetCache struct {
	broker   stockval.BrokerId
	data     *localcache.Cache
	logger   *zap.Logger
	initLock sync.Mutex
}

func NewLocalAssetCache(broker stockval.BrokerId, logger *zap.Logger) AssetCache {
	data, err := localcache.New(filepath.Join(config.AppName, string(broker)))
	if err != nil {
		logger.Fatal("initializing asset cache failed",
			zap.String("broker", string(broker)), zap.Error(err))
	}
	return &localAssetCache{
		broker: broker,
		data:   data,
		logger: logger.With(zap.String("broker", string(broker))),
	}
}

func (c *localAssetCache) GetAssetList(ctx context.Context, load func(ctx context.Context) ([]stockval.AssetData, error)) AssetList {
	if err := c.data.PurgeKey(cacheKeyTickers, tickerCacheMaxAge); err != nil {
		c.logger.Warn("purging ticker cache failed, list may be outdated", zap.Error(err))
	}
	assets := c.readCachedAssets()
	if assets == nil {
		var err error
		assets, err = c.fillCache(ctx, load)
		if err != nil {
			c.logger.Error("requesting ticker list failed, symbol resolution unavailable",
				zap.Error(err))
		}
	}
	return AssetList(assets)
}

func (c *localAssetCache) readCachedAssets() []stockval.AssetData {
	raw, err := c.data.ReadFile(cacheKeyTickers)
	if err != nil {
		return nil
	}
	var assets []stockval.AssetData
	if err = json.Unmarshal(raw, &assets); err != nil {
		c.logger.Warn("ticker cache contains invalid data")
		if err = c.data.Remove(cacheKeyTickers); err != nil {
			c.logger.Warn("deleting broken ticker cache failed", zap.Error(err))
		}
		return nil
	}
	return assets
}

func (c *localAssetCache) fillCache(ctx context.Context, load func(ctx context.Context) ([]stockval.AssetData, error)) ([]stockval.AssetData, error) {
	c.initLock.Lock()
	defer c.initLock.Unlock()
	// Another goroutine may have filled the cache while we waited for the lock.
	if cached := c.readCachedAssets(); cached != nil {
		return cached, nil
	}
	c.logger.Info("requesting ticker list")
	assets, err := load(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Symbol < assets[j].Symbol })
	raw, err := json.Marshal(assets)
	if err != nil {
		return nil, err
	}
	if err = c.data.WriteFile(cacheKeyTickers, raw); err != nil {
		return nil, err
	}
	return assets, nil
}
