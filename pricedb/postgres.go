// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricedb

import (
	"context"
	"errors"
	"fmt"

	"marketpulse/calendar"
	"marketpulse/pricing"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in postgres. Prices are stored as text to
// round-trip decimal values exactly. Commit runs the read-guard-write
// sequence inside one transaction with a row lock, so multiple processes may
// commit concurrently.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS prices (
	symbol text PRIMARY KEY,
	price text NOT NULL,
	ts bigint NOT NULL,
	session int NOT NULL
);
CREATE TABLE IF NOT EXISTS frozen_prices (
	symbol text PRIMARY KEY,
	price text NOT NULL,
	ts bigint NOT NULL
);
CREATE TABLE IF NOT EXISTS reference_prices (
	symbol text PRIMARY KEY,
	previous_close text,
	regular_close text,
	trading_day text NOT NULL
);
`

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func parseStoredPrice(s string) (*decimal.Big, error) {
	if s == "" {
		return nil, nil
	}
	price, ok := new(decimal.Big).SetString(s)
	if !ok {
		return nil, fmt.Errorf("stored price %q is not a valid decimal", s)
	}
	return price, nil
}

func formatStoredPrice(price *decimal.Big) string {
	if price == nil {
		return ""
	}
	return price.String()
}

func (s *PostgresStore) Existing(ctx context.Context, symbol string) (*stockval.PriceRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT price, ts, session FROM prices WHERE symbol = $1`, symbol)
	return scanPriceRecord(row)
}

func scanPriceRecord(row pgx.Row) (*stockval.PriceRecord, error) {
	var priceStr string
	var ts int64
	var session int
	err := row.Scan(&priceStr, &ts, &session)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read price record: %w", err)
	}
	price, err := parseStoredPrice(priceStr)
	if err != nil {
		return nil, err
	}
	return &stockval.PriceRecord{
		Price:     price,
		Timestamp: ts,
		Session:   calendar.Session(session),
	}, nil
}

func (s *PostgresStore) Frozen(ctx context.Context, symbol string) (*stockval.FrozenPrice, error) {
	var priceStr string
	var ts int64
	err := s.pool.QueryRow(ctx, `SELECT price, ts FROM frozen_prices WHERE symbol = $1`, symbol).
		Scan(&priceStr, &ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read frozen price: %w", err)
	}
	price, err := parseStoredPrice(priceStr)
	if err != nil {
		return nil, err
	}
	return &stockval.FrozenPrice{Price: price, Timestamp: ts}, nil
}

func (s *PostgresStore) SetFrozen(ctx context.Context, symbol string, frozen stockval.FrozenPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frozen_prices (symbol, price, ts) VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET price = $2, ts = $3`,
		symbol, formatStoredPrice(frozen.Price), frozen.Timestamp)
	if err != nil {
		return fmt.Errorf("write frozen price: %w", err)
	}
	return nil
}

func (s *PostgresStore) References(ctx context.Context, symbol string) (stockval.ReferencePrices, error) {
	var prevStr, regStr, tradingDay string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(previous_close, ''), COALESCE(regular_close, ''), trading_day
		 FROM reference_prices WHERE symbol = $1`, symbol).
		Scan(&prevStr, &regStr, &tradingDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return stockval.ReferencePrices{}, nil
	}
	if err != nil {
		return stockval.ReferencePrices{}, fmt.Errorf("read reference prices: %w", err)
	}
	prev, err := parseStoredPrice(prevStr)
	if err != nil {
		return stockval.ReferencePrices{}, err
	}
	reg, err := parseStoredPrice(regStr)
	if err != nil {
		return stockval.ReferencePrices{}, err
	}
	return stockval.ReferencePrices{
		PreviousClose: prev,
		RegularClose:  reg,
		TradingDay:    tradingDay,
	}, nil
}

func (s *PostgresStore) SetReferences(ctx context.Context, symbol string, refs stockval.ReferencePrices) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reference_prices (symbol, previous_close, regular_close, trading_day)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET previous_close = $2, regular_close = $3, trading_day = $4`,
		symbol, formatStoredPrice(refs.PreviousClose), formatStoredPrice(refs.RegularClose), refs.TradingDay)
	if err != nil {
		return fmt.Errorf("write reference prices: %w", err)
	}
	return nil
}

func (s *PostgresStore) Commit(ctx context.Context, symbol string, st pricing.State, candidate *stockval.EffectivePrice) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row so the guard evaluates a stable existing value.
	row := tx.QueryRow(ctx, `SELECT price, ts, session FROM prices WHERE symbol = $1 FOR UPDATE`, symbol)
	existing, err := scanPriceRecord(row)
	if err != nil {
		return false, err
	}
	if !pricing.CanOverwrite(st, existing, candidate) {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO prices (symbol, price, ts, session) VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET price = $2, ts = $3, session = $4`,
		symbol, formatStoredPrice(candidate.Price), candidate.Timestamp, int(st.Session()))
	if err != nil {
		return false, fmt.Errorf("write price record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit price record: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
