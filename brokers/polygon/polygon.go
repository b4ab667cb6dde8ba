// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"marketpulse/cache"
	"marketpulse/config"
	"marketpulse/stockapi"
	"marketpulse/stockval"
	"marketpulse/webclient"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ericlagergren/decimal"
)

// We do not use a generated polygon client, because generated clients use
// float64, which is bad for price calculations.
// We directly unmarshal values into decimal.Big.
type polygonBroker struct {
	rateLimiter  *webclient.RateLimiter
	apiClient    *http.Client
	realtimeConn *websocket.Conn
	tickDataMap  *stockapi.RealtimeChanMap[stockapi.RealtimeTickData]
	cache        cache.AssetCache
	logger       *zap.Logger
	config       config.BrokerConfig
}

type tickerDetails struct {
	Ticker       string `json:"ticker,omitempty"`
	Name         string `json:"name,omitempty"`
	CurrencyName string `json:"currency_name,omitempty"`
	Active       bool   `json:"active,omitempty"`
}

type tickersResponse struct {
	Results []tickerDetails `json:"results,omitempty"`
	Status  string          `json:"status,omitempty"`
	NextUrl string          `json:"next_url,omitempty"`
}

type snapshotMinuteBar struct {
	C *decimal.Big `json:"c,omitempty"`
	T int64        `json:"t,omitempty"` // Unix msec
}

type snapshotLastTrade struct {
	P *decimal.Big `json:"p,omitempty"`
	T int64        `json:"t,omitempty"` // Unix nsec
}

type snapshotLastQuote struct {
	AskPrice *decimal.Big `json:"P,omitempty"`
	BidPrice *decimal.Big `json:"p,omitempty"`
	T        int64        `json:"t,omitempty"` // Unix nsec
}

type snapshotDayBar struct {
	C *decimal.Big `json:"c,omitempty"`
}

type snapshotTicker struct {
	Ticker    string             `json:"ticker,omitempty"`
	Min       *snapshotMinuteBar `json:"min,omitempty"`
	LastTrade *snapshotLastTrade `json:"lastTrade,omitempty"`
	LastQuote *snapshotLastQuote `json:"lastQuote,omitempty"`
	Day       *snapshotDayBar    `json:"day,omitempty"`
	PrevDay   *snapshotDayBar    `json:"prevDay,omitempty"`
	Updated   int64              `json:"updated,omitempty"`
}

type snapshotResponse struct {
	Status string          `json:"status,omitempty"`
	Ticker *snapshotTicker `json:"ticker,omitempty"`
}

type realtimeTradeEntry struct {
	Ev  string       `json:"ev,omitempty"`
	Sym string       `json:"sym,omitempty"`
	P   *decimal.Big `json:"p,omitempty"`
	S   *decimal.Big `json:"s,omitempty"`
	T   int64        `json:"t,omitempty"` // Unix msec
}

type realtimeCommand struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

const EventTypeTrade = "T"

func getRealtimeDataSubscriptionStr(s stockapi.RealtimeDataSubscription) string {
	switch s {
	case stockapi.RealtimeTradesSubscribe:
		return "subscribe"
	case stockapi.RealtimeTradesUnsubscribe:
		return "unsubscribe"
	default:
		panic("unsupported realtime data subscription mode")
	}
}

func NewBroker(logger *zap.Logger) stockapi.SnapshotRequester {
	return &polygonBroker{
		rateLimiter: webclient.NewRateLimiter(),
		apiClient:   &http.Client{},
		tickDataMap: stockapi.NewRealtimeChanMap[stockapi.RealtimeTickData](),
		cache:       cache.NewLocalAssetCache(GetBrokerId(), logger),
		logger:      logger,
	}
}

func GetBrokerId() stockval.BrokerId {
	return "polygon"
}

func (rq *polygonBroker) RemainingApiLimit() int {
	return rq.rateLimiter.Remaining()
}

func (rq *polygonBroker) createRequest(ctx context.Context, cmd string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rq.config.DataUrl+cmd, nil)
	if err != nil {
		return req, err
	}
	req.Header.Add("Authorization", "Bearer "+rq.config.ApiKey)

	return req, err
}

func (rq *polygonBroker) runRequest(ctx context.Context, cmd string, query url.Values) (*http.Response, error) {
	retry := true
	var resp *http.Response
	for retry {
		// Throttle using a fixed per-minute limit, polygon does not send
		// rate limit headers on its free plan.
		err := rq.rateLimiter.Wait(ctx)
		if err != nil {
			return nil, err
		}

		req, err := rq.createRequest(ctx, cmd)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = query.Encode()

		resp, err = rq.apiClient.Do(req)
		if err != nil {
			return nil, err
		}
		rq.rateLimiter.HandleManualTimer()
		retry, err = rq.rateLimiter.HandleResponseHeadersWithWait(ctx, resp)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		if retry {
			resp.Body.Close()
		}
	}
	return resp, nil
}

func mapTickerDetails(t tickerDetails) stockval.AssetData {
	return stockval.AssetData{
		Symbol:                t.Ticker,
		CompanyName:           t.Name,
		Currency:              strings.ToUpper(t.CurrencyName),
		CompanyNameNormalized: stockval.NormalizeAssetName(t.Name),
		Tradable:              t.Active,
	}
}

func (rq *polygonBroker) GetAssetList(ctx context.Context) []stockval.AssetData {
	return rq.cache.GetAssetList(ctx, func(ctx context.Context) ([]stockval.AssetData, error) {
		query := make(url.Values)
		query.Add("market", "stocks")
		query.Add("active", "true")
		query.Add("limit", "1000")
		var assetData []stockval.AssetData
		for {
			resp, err := rq.runRequest(ctx, "/v3/reference/tickers", query)
			if err != nil {
				return nil, err
			}
			var tickers tickersResponse
			err = webclient.ParseJsonResponse(resp, &tickers)
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			for _, t := range tickers.Results {
				assetData = append(assetData, mapTickerDetails(t))
			}
			if tickers.NextUrl == "" {
				break
			}
			nextUrl, err := url.Parse(tickers.NextUrl)
			if err != nil {
				break
			}
			cursor := nextUrl.Query().Get("cursor")
			if cursor == "" {
				break
			}
			query.Set("cursor", cursor)
		}
		return assetData, nil
	})
}

func mapSnapshot(t *snapshotTicker) stockval.Snapshot {
	snapshot := stockval.Snapshot{
		Symbol:  t.Ticker,
		Updated: t.Updated,
	}
	if t.Min != nil {
		snapshot.MinuteBar = &stockval.MinuteBar{Close: t.Min.C, Timestamp: t.Min.T}
	}
	if t.LastTrade != nil {
		snapshot.LastTrade = &stockval.TradeObservation{Price: t.LastTrade.P, Timestamp: t.LastTrade.T}
	}
	if t.LastQuote != nil {
		snapshot.LastQuote = &stockval.QuoteObservation{
			BidPrice:  t.LastQuote.BidPrice,
			AskPrice:  t.LastQuote.AskPrice,
			Timestamp: t.LastQuote.T,
		}
	}
	if t.Day != nil {
		snapshot.Day = &stockval.DayBar{Close: t.Day.C}
	}
	if t.PrevDay != nil {
		snapshot.PrevDay = &stockval.DayBar{Close: t.PrevDay.C}
	}
	return snapshot
}

func (rq *polygonBroker) QuerySnapshot(ctx context.Context, entry <-chan stockval.AssetData, response chan<- stockapi.QuerySnapshotResponse) {
	defer close(response)

	for entry := range entry {
		resp := rq.querySymbolSnapshot(ctx, entry)
		if resp.Error != nil {
			rq.logger.Warn("snapshot query failed", zap.String("symbol", resp.Symbol), zap.Error(resp.Error))
		}
		response <- resp
	}
	rq.logger.Info("polygon QuerySnapshot terminating")
}

func (rq *polygonBroker) querySymbolSnapshot(ctx context.Context, entry stockval.AssetData) stockapi.QuerySnapshotResponse {
	resp, err := rq.runRequest(ctx, "/v2/snapshot/locale/us/markets/stocks/tickers/"+entry.Symbol, nil)
	if err != nil {
		return stockapi.QuerySnapshotResponse{Symbol: entry.Symbol, Error: err}
	}
	defer resp.Body.Close()

	var snapshot snapshotResponse
	if err = webclient.ParseJsonResponse(resp, &snapshot); err != nil {
		return stockapi.QuerySnapshotResponse{Symbol: entry.Symbol, Error: err}
	}

	if snapshot.Status != "OK" && snapshot.Status != "DELAYED" {
		return stockapi.QuerySnapshotResponse{Symbol: entry.Symbol, Error: fmt.Errorf("polygon snapshot error: %s", snapshot.Status)}
	}
	if snapshot.Ticker == nil {
		return stockapi.QuerySnapshotResponse{Symbol: entry.Symbol, Error: errors.New("polygon snapshot error: missing ticker data")}
	}

	return stockapi.QuerySnapshotResponse{
		Symbol:   entry.Symbol,
		Snapshot: mapSnapshot(snapshot.Ticker),
	}
}

func (rq *polygonBroker) initRealtimeConnection(ctx context.Context) error {
	if rq.realtimeConn != nil {
		return errors.New("only a single realtime connection is supported")
	}
	rq.logger.Info("establishing polygon realtime connection")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rq.config.WsUrl, nil)
	if err != nil {
		return fmt.Errorf("could not connect to polygon websocket: %w", err)
	}
	authCommand := realtimeCommand{
		Action: "auth",
		Params: rq.config.ApiKey,
	}
	msg, _ := json.Marshal(authCommand)
	err = conn.WriteMessage(websocket.TextMessage, msg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("could not authenticate polygon websocket: %w", err)
	}
	rq.realtimeConn = conn
	return nil
}

func (rq *polygonBroker) handleRealtimeData() {
	for {
		var data []realtimeTradeEntry
		err := rq.realtimeConn.ReadJSON(&data)

		rq.tickDataMap.ClearPendingClose()

		if err != nil {
			rq.tickDataMap.Clear()
			// TODO reconnect
			rq.logger.Warn("polygon realtime connection was terminated", zap.Error(err))
			break
		}
		for _, tradeEntry := range data {
			if tradeEntry.Ev != EventTypeTrade {
				continue
			}
			tradeTime := time.UnixMilli(tradeEntry.T)
			if tradeTime.Before(time.Now().Add(-time.Minute)) {
				rq.logger.Debug("old realtime data received", zap.String("symbol", tradeEntry.Sym))
			}
			tickData := stockapi.RealtimeTickData{
				Timestamp: tradeTime,
				Price:     tradeEntry.P,
				Volume:    tradeEntry.S,
			}
			err = rq.tickDataMap.AddNewData(tradeEntry.Sym, tickData)
			if err != nil {
				rq.logger.Warn("realtime data dropped", zap.Error(err))
			}
		}
	}
}

func (rq *polygonBroker) SubscribeTrades(ctx context.Context, request <-chan stockapi.SubscribeTradesRequest, response chan<- stockapi.SubscribeTradesResponse) {
	defer close(response)
	for entry := range request {
		// connect whenever we receive a first subscription message.
		// this avoids establishing a realtime connection when nobody subscribes.
		if rq.realtimeConn == nil {
			err := rq.initRealtimeConnection(ctx)
			if err != nil {
				response <- stockapi.SubscribeTradesResponse{
					Symbol: entry.Asset.Symbol,
					Error:  err,
					Type:   entry.Type,
				}
				continue
			}
			go rq.handleRealtimeData()
		}

		var tickData chan stockapi.RealtimeTickData
		var err error
		switch entry.Type {
		case stockapi.RealtimeTradesSubscribe:
			tickData, err = rq.tickDataMap.Subscribe(entry.Asset.Symbol)
		case stockapi.RealtimeTradesUnsubscribe:
			err = rq.tickDataMap.Unsubscribe(entry.Asset.Symbol)
		default:
			panic("unsupported realtime data subscription mode")
		}
		if err == nil {
			subscribeCommand := realtimeCommand{
				Action: getRealtimeDataSubscriptionStr(entry.Type),
				Params: EventTypeTrade + "." + entry.Asset.Symbol,
			}
			msg, _ := json.Marshal(subscribeCommand)
			rq.realtimeConn.WriteMessage(websocket.TextMessage, msg)
		}

		responseData := stockapi.SubscribeTradesResponse{
			Symbol:   entry.Asset.Symbol,
			Error:    err,
			Type:     entry.Type,
			TickData: tickData,
		}
		response <- responseData
	}
	if rq.realtimeConn != nil {
		rq.realtimeConn.Close()
		rq.realtimeConn = nil
	}
}

func (rq *polygonBroker) ReadConfig(c config.BrokerConfig) error {
	if len(c.DataUrl) == 0 || len(c.ApiKey) == 0 {
		return errors.New("polygon configuration is incomplete")
	}
	rq.config = c
	rq.apiClient.Timeout = time.Second * time.Duration(c.DataTimeoutSeconds)
	rq.rateLimiter = webclient.NewManualRateLimiter(time.Minute, uint32(c.RateLimitPerMinute))
	return nil
}
