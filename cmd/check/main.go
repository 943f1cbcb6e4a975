package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/darkweid/tg-trade-bot-websocket/internal/alerts"
	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/feed"
	"github.com/darkweid/tg-trade-bot-websocket/internal/bybit/ws"
	"github.com/darkweid/tg-trade-bot-websocket/internal/config"
	"github.com/darkweid/tg-trade-bot-websocket/internal/logging"
	"github.com/darkweid/tg-trade-bot-websocket/internal/quote"
)

const defaultCheckEnvFile = ".env"

// Preflight checker: validates config and credentials, pulls one quote
// from the public stream and probes the Telegram API without placing
// any orders.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 15*time.Second, "how long to wait for the first quote")
	skipTelegram := flag.Bool("skip-telegram", false, "skip the Telegram API probe")
	flag.Parse()

	if err := config.LoadEnv(defaultCheckEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	if strings.TrimSpace(os.Getenv("API_KEY")) == "" {
		fatal(errors.New("API_KEY is required"))
	}
	if strings.TrimSpace(os.Getenv("API_SECRET")) == "" {
		fatal(errors.New("API_SECRET is required"))
	}
	fmt.Println("credentials: ok")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cache := quote.NewCache(log)
	wsClient := ws.New(cfg.Bybit.PublicWSURL, cfg.Bybit.ReconnectDelay, cfg.Bybit.PingInterval, log)
	marketFeed := feed.New(wsClient, cache, cfg.Strategy.Symbol, log)
	if err := marketFeed.Start(ctx); err != nil {
		fatal(fmt.Errorf("public stream connect failed: %w", err))
	}
	q, err := cache.Await(ctx)
	if err != nil {
		fatal(fmt.Errorf("no quote received for %s within %s: %w", cfg.Strategy.Symbol, *timeout, err))
	}
	fmt.Printf("market feed: ok (%s bid=%v ask=%v)\n", cfg.Strategy.Symbol, q.Bid, q.Ask)

	if *skipTelegram {
		return
	}
	if token := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	tg := alerts.NewTelegram(cfg.Telegram, log)
	if !tg.Enabled() {
		fmt.Println("telegram: disabled")
		return
	}
	updates, err := tg.GetUpdates(ctx, 0, 0)
	if err != nil {
		fatal(fmt.Errorf("telegram probe failed: %w", err))
	}
	fmt.Printf("telegram: ok (%d pending updates)\n", len(updates))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
