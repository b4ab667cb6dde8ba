// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"marketpulse/brokers/polygon"
	"marketpulse/calendar"
	"marketpulse/config"
	"marketpulse/ingest"
	"marketpulse/pricedb"
	"marketpulse/stockapi"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the yaml configuration file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	c, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if len(c.Ingest.Symbols) == 0 {
		logger.Fatal("no symbols configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := polygon.NewBroker(logger)
	if err := broker.ReadConfig(c.Broker); err != nil {
		logger.Fatal("failed to configure broker", zap.Error(err))
	}

	store, err := pricedb.NewStore(ctx, c.Store)
	if err != nil {
		logger.Fatal("failed to open price store", zap.Error(err))
	}
	defer store.Close()

	svc := ingest.NewService(calendar.NewUSMarketCalendar(), broker, store, logger, c.Ingest)
	if lister, ok := broker.(stockapi.AssetLister); ok {
		svc.ResolveAssets(ctx, lister)
	}

	logger.Info("started",
		zap.Strings("symbols", c.Ingest.Symbols),
		zap.String("store", c.Store.Driver))
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ingestion terminated", zap.Error(err))
	}
	logger.Info("shut down")
}
