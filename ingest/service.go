// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package ingest

import (
	"context"
	"time"

	"marketpulse/cache"
	"marketpulse/calendar"
	"marketpulse/config"
	"marketpulse/pricedb"
	"marketpulse/pricing"
	"marketpulse/stockapi"
	"marketpulse/stockval"

	"go.uber.org/zap"
)

// Service periodically pulls snapshots for the configured tickers, resolves
// them to effective prices and commits the results. The pricing state is
// recomputed on every cycle; during frozen states no provider requests are
// made at all, the store keeps serving the retained prices.
type Service struct {
	cal      calendar.MarketCalendar
	broker   stockapi.SnapshotRequester
	store    pricedb.Store
	refCache *cache.ReferenceCache
	logger   *zap.Logger
	assets   []stockval.AssetData
	interval time.Duration
	force    bool
	realtime bool
	clock    func() time.Time
}

func NewService(cal calendar.MarketCalendar, broker stockapi.SnapshotRequester, store pricedb.Store,
	logger *zap.Logger, c config.IngestConfig) *Service {
	symbols := make([]string, 0, len(c.Symbols))
	for _, symbol := range c.Symbols {
		normalized := stockval.NormalizeAssetName(symbol)
		if stockval.IndexOf(symbols, normalized) >= 0 {
			logger.Warn("ignoring duplicate configured symbol", zap.String("symbol", normalized))
			continue
		}
		symbols = append(symbols, normalized)
	}
	assets := make([]stockval.AssetData, 0, len(symbols))
	for _, symbol := range symbols {
		assets = append(assets, stockval.AssetData{
			Symbol:   symbol,
			Currency: "USD",
		})
	}
	return &Service{
		cal:      cal,
		broker:   broker,
		store:    store,
		refCache: cache.NewReferenceCache(24*time.Hour, nil),
		logger:   logger,
		assets:   assets,
		interval: time.Duration(c.IntervalSeconds) * time.Second,
		force:    c.Force,
		realtime: c.Realtime,
		clock:    time.Now,
	}
}

// ResolveAssets replaces the bare configured symbols with full entries from
// the provider's asset list, when the provider can enumerate assets.
func (s *Service) ResolveAssets(ctx context.Context, lister stockapi.AssetLister) {
	known := cache.AssetList(lister.GetAssetList(ctx))
	for i, asset := range s.assets {
		match := known.Find(asset.Symbol, 1, true)
		if len(match) == 0 {
			s.logger.Warn("configured symbol is unknown to the provider",
				zap.String("symbol", asset.Symbol))
			continue
		}
		s.assets[i] = match[0]
	}
}

// Run ingests until the context is cancelled. The first cycle starts
// immediately, later cycles follow the configured interval.
func (s *Service) Run(ctx context.Context) error {
	entry := make(chan stockval.AssetData)
	response := make(chan stockapi.QuerySnapshotResponse)
	go s.broker.QuerySnapshot(ctx, entry, response)
	defer close(entry)

	if s.realtime {
		go s.runRealtime(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.ingestOnce(ctx, entry, response)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.ingestOnce(ctx, entry, response)
		}
	}
}

func (s *Service) ingestOnce(ctx context.Context, entry chan<- stockval.AssetData, response <-chan stockapi.QuerySnapshotResponse) {
	now := s.clock()
	st := pricing.StateFor(s.cal, now)
	if !st.CanIngest && !s.force {
		s.serveFrozen(ctx, st)
		return
	}
	// The broker serves entries sequentially, so each entry must be answered
	// before the next one is sent. Sending all entries up front would block
	// both sides on unbuffered channels.
	for i := range s.assets {
		select {
		case entry <- s.assets[i]:
		case <-ctx.Done():
			return
		}
		select {
		case resp, ok := <-response:
			if !ok {
				return
			}
			s.processSnapshot(ctx, st, now, resp)
		case <-ctx.Done():
			return
		}
	}
	s.logger.Debug("ingest cycle complete",
		zap.Int("remainingApiLimit", s.broker.RemainingApiLimit()))
}

// serveFrozen logs what consumers currently see. The store keeps serving
// retained prices on its own, nothing is written here.
func (s *Service) serveFrozen(ctx context.Context, st pricing.State) {
	for _, asset := range s.assets {
		frozen, err := s.store.Frozen(ctx, asset.Symbol)
		if err != nil {
			s.logger.Error("frozen price lookup failed",
				zap.String("symbol", asset.Symbol), zap.Error(err))
			continue
		}
		if frozen == nil {
			s.logger.Debug("no frozen price retained",
				zap.String("symbol", asset.Symbol), zap.String("state", st.Kind.String()))
			continue
		}
		s.logger.Debug("serving frozen price",
			zap.String("symbol", asset.Symbol),
			zap.String("state", st.Kind.String()),
			zap.String("price", frozen.Price.String()))
	}
}

func (s *Service) processSnapshot(ctx context.Context, st pricing.State, now time.Time, resp stockapi.QuerySnapshotResponse) {
	logger := s.logger.With(zap.String("symbol", resp.Symbol))
	if resp.Error != nil {
		// fail closed: an upstream error never touches the stored price
		logger.Warn("snapshot request failed, keeping stored price", zap.Error(resp.Error))
		return
	}
	frozen, err := s.store.Frozen(ctx, resp.Symbol)
	if err != nil {
		logger.Error("frozen price lookup failed", zap.Error(err))
		return
	}
	effective := pricing.ResolveEffectivePrice(s.cal, pricing.Input{
		Snapshot: resp.Snapshot,
		Session:  st.Session(),
		Now:      now,
		Frozen:   frozen,
		Force:    s.force,
	})
	if effective == nil {
		logger.Info("no trustworthy price, keeping stored value",
			zap.String("state", st.Kind.String()))
		return
	}
	refs := s.updateReferences(ctx, logger, st, now, resp)
	committed, err := s.store.Commit(ctx, resp.Symbol, st, effective)
	if err != nil {
		logger.Error("price commit failed", zap.Error(err))
		return
	}
	if committed {
		// retain the committed price so the next frozen state has
		// something to serve
		err = s.store.SetFrozen(ctx, resp.Symbol, stockval.FrozenPrice{
			Price:     effective.Price,
			Timestamp: effective.Timestamp,
		})
		if err != nil {
			logger.Error("retaining frozen price failed", zap.Error(err))
		}
	}
	change := pricing.PercentChange(effective.Price, st.Session(), refs.PreviousClose, refs.RegularClose)
	fields := []zap.Field{
		zap.String("price", effective.Price.String()),
		zap.String("source", effective.Source.String()),
		zap.Bool("committed", committed),
		zap.String("changePct", change.ChangePct.String()),
		zap.String("reference", change.Reference.Used.String()),
	}
	if resp.Snapshot.Updated != 0 {
		age := time.Duration(now.UnixMilli()-calendar.ToMilliseconds(resp.Snapshot.Updated)) * time.Millisecond
		fields = append(fields, zap.Duration("snapshotAge", age))
	}
	logger.Info("price resolved", fields...)
	if effective.IsStale {
		logger.Warn("price is stale", zap.String("reason", effective.StaleReason))
	}
}

// runRealtime subscribes to the provider's trade stream and commits ticks as
// they arrive. Polling stays authoritative; ticks only freshen the stored
// price between cycles.
func (s *Service) runRealtime(ctx context.Context) {
	request := make(chan stockapi.SubscribeTradesRequest)
	response := make(chan stockapi.SubscribeTradesResponse)
	go s.broker.SubscribeTrades(ctx, request, response)
	defer close(request)

	for _, asset := range s.assets {
		select {
		case request <- stockapi.SubscribeTradesRequest{Asset: asset, Type: stockapi.RealtimeTradesSubscribe}:
		case <-ctx.Done():
			return
		}
		resp, ok := <-response
		if !ok {
			return
		}
		if resp.Error != nil {
			s.logger.Warn("trade subscription failed",
				zap.String("symbol", resp.Symbol), zap.Error(resp.Error))
			continue
		}
		go s.consumeTicks(ctx, resp.Symbol, resp.TickData)
	}
	<-ctx.Done()
}

func (s *Service) consumeTicks(ctx context.Context, symbol string, ticks <-chan stockapi.RealtimeTickData) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			s.commitTick(ctx, symbol, tick)
		}
	}
}

func (s *Service) commitTick(ctx context.Context, symbol string, tick stockapi.RealtimeTickData) {
	if !stockval.IsGreaterThanZero(tick.Price) {
		return
	}
	st := pricing.StateFor(s.cal, s.clock())
	committed, err := s.store.Commit(ctx, symbol, st, &stockval.EffectivePrice{
		Price:     tick.Price,
		Source:    stockval.SourceLastTrade,
		Timestamp: tick.Timestamp.UnixMilli(),
	})
	if err != nil {
		s.logger.Error("tick commit failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if committed {
		s.logger.Debug("tick committed",
			zap.String("symbol", symbol),
			zap.String("price", tick.Price.String()))
	}
}

// updateReferences rolls the percent-change denominators to the trading day
// governing now. The previous close comes from the snapshot's previous day
// bar; the regular close only becomes known once the live session is over.
func (s *Service) updateReferences(ctx context.Context, logger *zap.Logger, st pricing.State, now time.Time, resp stockapi.QuerySnapshotResponse) stockval.ReferencePrices {
	day := s.cal.DateKey(s.cal.TradingDayFor(now))
	session := st.Session()
	regularSessionOver := session == calendar.SessionAfterHours || session == calendar.SessionClosed

	// A cached entry that is complete for the governing trading day saves a
	// store read per cycle.
	if refs, exists := s.refCache.Get(resp.Symbol); exists && refs.TradingDay == day &&
		refs.PreviousClose != nil && (refs.RegularClose != nil || !regularSessionOver) {
		return refs
	}

	refs, err := s.store.References(ctx, resp.Symbol)
	if err != nil {
		logger.Error("reference price lookup failed", zap.Error(err))
		return stockval.ReferencePrices{}
	}
	changed := false
	if refs.TradingDay != day {
		refs = stockval.ReferencePrices{TradingDay: day}
		changed = true
	}
	if refs.PreviousClose == nil && resp.Snapshot.PrevDay != nil &&
		stockval.IsGreaterThanZero(resp.Snapshot.PrevDay.Close) {
		refs.PreviousClose = resp.Snapshot.PrevDay.Close
		changed = true
	}
	if regularSessionOver && refs.RegularClose == nil && resp.Snapshot.Day != nil &&
		stockval.IsGreaterThanZero(resp.Snapshot.Day.Close) {
		refs.RegularClose = resp.Snapshot.Day.Close
		changed = true
	}
	if changed {
		if err := s.store.SetReferences(ctx, resp.Symbol, refs); err != nil {
			logger.Error("reference price update failed", zap.Error(err))
		}
	}
	s.refCache.Set(resp.Symbol, refs)
	return refs
}
