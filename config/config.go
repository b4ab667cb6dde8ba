// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package config

import (
	"github.com/barkimedes/go-deepcopy"
)

const AppName = "marketpulse"

type Config struct {
	Broker BrokerConfig `yaml:"broker"`
	Ingest IngestConfig `yaml:"ingest"`
	Store  StoreConfig  `yaml:"store"`
}

type BrokerConfig struct {
	DataUrl string `yaml:",omitempty"`
	WsUrl   string `yaml:",omitempty"`
	ApiKey  string `yaml:",omitempty"`
	// The upstream provider enforces a request budget per minute.
	RateLimitPerMinute int `yaml:",omitempty"`
	// The provider sometimes does not reply, so use a timeout.
	DataTimeoutSeconds int `yaml:",omitempty"`
}

type IngestConfig struct {
	Symbols         []string `yaml:",omitempty"`
	IntervalSeconds int      `yaml:",omitempty"`
	// Force relaxes same-day requirements for manual catch-up runs.
	Force bool `yaml:",omitempty"`
	// Realtime additionally streams trades over the provider websocket, so
	// prices freshen between polling cycles.
	Realtime bool `yaml:",omitempty"`
}

type StoreConfig struct {
	// Driver selects the price record store: "memory", "postgres" or "redis".
	Driver     string      `yaml:",omitempty"`
	ConnString string      `yaml:",omitempty"`
	Redis      RedisConfig `yaml:",omitempty"`
}

// RedisConfig enables the optional Redis adapter for frozen and reference
// prices. Disabled when Addr is empty.
type RedisConfig struct {
	Addr       string `yaml:",omitempty"`
	Password   string `yaml:",omitempty"`
	DB         int    `yaml:",omitempty"`
	TTLSeconds int    `yaml:",omitempty"`
}

func NewConfig() Config {
	return Config{
		Broker: BrokerConfig{
			DataUrl:            "https://api.polygon.io",
			WsUrl:              "wss://socket.polygon.io/stocks",
			RateLimitPerMinute: 5,
			DataTimeoutSeconds: 10,
		},
		Ingest: IngestConfig{
			IntervalSeconds: 60,
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis: RedisConfig{
				TTLSeconds: 86400,
			},
		},
	}
}

// Sanitize restores defaults for fields a config file left empty.
func (c *Config) Sanitize() {
	def := NewConfig()
	if c.Broker.DataUrl == "" {
		c.Broker.DataUrl = def.Broker.DataUrl
	}
	if c.Broker.WsUrl == "" {
		c.Broker.WsUrl = def.Broker.WsUrl
	}
	if c.Broker.RateLimitPerMinute <= 0 {
		c.Broker.RateLimitPerMinute = def.Broker.RateLimitPerMinute
	}
	if c.Broker.DataTimeoutSeconds <= 0 {
		c.Broker.DataTimeoutSeconds = def.Broker.DataTimeoutSeconds
	}
	if c.Ingest.IntervalSeconds <= 0 {
		c.Ingest.IntervalSeconds = def.Ingest.IntervalSeconds
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Redis.TTLSeconds <= 0 {
		c.Store.Redis.TTLSeconds = def.Store.Redis.TTLSeconds
	}
}

// Copy returns an independent deep copy, so concurrent readers never observe
// a partially updated config.
func (c *Config) Copy() Config {
	copied, err := deepcopy.Anything(c)
	if err != nil {
		panic(err)
	}
	return *copied.(*Config)
}
