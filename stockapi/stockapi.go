// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockapi

import (
	"context"
	"time"

	"marketpulse/config"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
)

// QuerySnapshotResponse carries one multi-field market data snapshot, or the
// error the provider returned for the symbol. The snapshot content is
// untrusted input; resolution and zero-guards happen downstream.
type QuerySnapshotResponse struct {
	Symbol   string
	Error    error
	Snapshot stockval.Snapshot
}

type RealtimeDataSubscription int

const (
	RealtimeTradesSubscribe RealtimeDataSubscription = iota
	RealtimeTradesUnsubscribe
)

type RealtimeTickData struct {
	Timestamp time.Time
	Price     *decimal.Big
	Volume    *decimal.Big
}

type SubscribeTradesRequest struct {
	Asset stockval.AssetData
	Type  RealtimeDataSubscription
}

type SubscribeTradesResponse struct {
	Symbol   string
	Error    error
	Type     RealtimeDataSubscription
	TickData chan RealtimeTickData
}

// SnapshotRequester is the narrow inbound interface to the upstream quote
// provider. Requests and responses travel over channels so that one provider
// goroutine can serve many tickers while respecting the provider's rate
// limits.
type SnapshotRequester interface {
	RemainingApiLimit() int
	ReadConfig(c config.BrokerConfig) error
	QuerySnapshot(ctx context.Context, entry <-chan stockval.AssetData, response chan<- QuerySnapshotResponse)
	SubscribeTrades(ctx context.Context, request <-chan SubscribeTradesRequest, response chan<- SubscribeTradesResponse)
}

// AssetLister is implemented by providers which can enumerate their tradable
// assets. The result is used to resolve configured symbols to full asset
// entries before ingestion starts.
type AssetLister interface {
	GetAssetList(ctx context.Context) []stockval.AssetData
}
