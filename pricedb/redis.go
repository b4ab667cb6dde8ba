// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricedb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"marketpulse/calendar"
	"marketpulse/pricing"
	"marketpulse/stockval"

	"github.com/redis/go-redis/v9"
	"github.com/zhangyunhao116/skipmap"
)

// RedisStore persists records in redis with a lifetime, so stale tickers
// expire instead of accumulating. Commit serialization uses in-process
// per-ticker mutexes; run a single writer process per redis database.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	locks  *skipmap.StringMap[*sync.Mutex]
}

// Decimals travel as strings to survive the JSON round trip exactly.
type priceRecordJson struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"ts"`
	Session   int    `json:"session"`
}

type frozenPriceJson struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"ts"`
}

type referencePricesJson struct {
	PreviousClose string `json:"previousClose,omitempty"`
	RegularClose  string `json:"regularClose,omitempty"`
	TradingDay    string `json:"tradingDay"`
}

func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		locks:  skipmap.NewString[*sync.Mutex](),
	}, nil
}

func (s *RedisStore) lock(symbol string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(symbol, new(sync.Mutex))
	return mu
}

func (s *RedisStore) read(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write %s to redis: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Existing(ctx context.Context, symbol string) (*stockval.PriceRecord, error) {
	var record priceRecordJson
	exists, err := s.read(ctx, "price:"+symbol, &record)
	if err != nil || !exists {
		return nil, err
	}
	price, err := parseStoredPrice(record.Price)
	if err != nil {
		return nil, err
	}
	return &stockval.PriceRecord{
		Price:     price,
		Timestamp: record.Timestamp,
		Session:   calendar.Session(record.Session),
	}, nil
}

func (s *RedisStore) Frozen(ctx context.Context, symbol string) (*stockval.FrozenPrice, error) {
	var frozen frozenPriceJson
	exists, err := s.read(ctx, "frozen:"+symbol, &frozen)
	if err != nil || !exists {
		return nil, err
	}
	price, err := parseStoredPrice(frozen.Price)
	if err != nil {
		return nil, err
	}
	return &stockval.FrozenPrice{Price: price, Timestamp: frozen.Timestamp}, nil
}

func (s *RedisStore) SetFrozen(ctx context.Context, symbol string, frozen stockval.FrozenPrice) error {
	return s.write(ctx, "frozen:"+symbol, frozenPriceJson{
		Price:     formatStoredPrice(frozen.Price),
		Timestamp: frozen.Timestamp,
	})
}

func (s *RedisStore) References(ctx context.Context, symbol string) (stockval.ReferencePrices, error) {
	var refs referencePricesJson
	exists, err := s.read(ctx, "refs:"+symbol, &refs)
	if err != nil || !exists {
		return stockval.ReferencePrices{}, err
	}
	prev, err := parseStoredPrice(refs.PreviousClose)
	if err != nil {
		return stockval.ReferencePrices{}, err
	}
	reg, err := parseStoredPrice(refs.RegularClose)
	if err != nil {
		return stockval.ReferencePrices{}, err
	}
	return stockval.ReferencePrices{
		PreviousClose: prev,
		RegularClose:  reg,
		TradingDay:    refs.TradingDay,
	}, nil
}

func (s *RedisStore) SetReferences(ctx context.Context, symbol string, refs stockval.ReferencePrices) error {
	return s.write(ctx, "refs:"+symbol, referencePricesJson{
		PreviousClose: formatStoredPrice(refs.PreviousClose),
		RegularClose:  formatStoredPrice(refs.RegularClose),
		TradingDay:    refs.TradingDay,
	})
}

func (s *RedisStore) Commit(ctx context.Context, symbol string, st pricing.State, candidate *stockval.EffectivePrice) (bool, error) {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()
	existing, err := s.Existing(ctx, symbol)
	if err != nil {
		return false, err
	}
	if !pricing.CanOverwrite(st, existing, candidate) {
		return false, nil
	}
	err = s.write(ctx, "price:"+symbol, priceRecordJson{
		Price:     formatStoredPrice(candidate.Price),
		Timestamp: candidate.Timestamp,
		Session:   int(st.Session()),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Close() {
	s.client.Close()
}
