package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"futures-autopilot/internal/domain"
	"futures-autopilot/internal/infrastructure/exchange"
	"futures-autopilot/internal/infrastructure/logger"
	"futures-autopilot/internal/infrastructure/notify"
	"futures-autopilot/internal/infrastructure/storage"
	"futures-autopilot/internal/usecase"
)

type Config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Trading struct {
		Symbol      string `yaml:"symbol"`
		MarginQuote string `yaml:"margin_quote"`
	} `yaml:"trading"`
	Polling struct {
		ReconcileMs     int `yaml:"reconcile_ms"`
		SignalMs        int `yaml:"signal_ms"`
		MarketRefreshMs int `yaml:"market_refresh_ms"`
	} `yaml:"polling"`
	Notifications struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notifications"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	// Credentials from the environment win over the file.
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}

	if cfg.Exchange.RESTEndpoint == "" {
		cfg.Exchange.RESTEndpoint = exchange.BinanceFuturesBaseURL
	}
	if cfg.Exchange.WSEndpoint == "" {
		cfg.Exchange.WSEndpoint = exchange.BinanceFuturesWSURL
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "bot.db"
	}

	return &cfg, nil
}

func intervalOr(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	marginQuote, err := decimal.NewFromString(cfg.Trading.MarginQuote)
	if err != nil {
		log.Fatal("Invalid trading.margin_quote", zap.Error(err))
	}

	adapter := exchange.NewBinanceAdapter(
		cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, log)

	var notifier domain.Notifier
	if cfg.Notifications.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notifications.WebhookURL, log)
	} else {
		notifier = notify.NewLogNotifier(log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	strategy, err := usecase.NewStrategyService(ctx, store, log)
	if err != nil {
		log.Fatal("Failed to init strategy", zap.Error(err))
	}

	marketCell := &usecase.MarketCell{}
	predictionCell := &usecase.PredictionCell{}

	feed := usecase.NewMarketFeed(adapter, marketCell, predictionCell, cfg.Trading.Symbol, log)
	adapter.OnMarkPrice(feed.OnMark)
	if err := adapter.ConnectMarkPriceStream(cfg.Trading.Symbol); err != nil {
		log.Error("Mark price stream unavailable, continuing on REST only", zap.Error(err))
	}
	defer adapter.CloseStream()

	positions := usecase.NewPositionService(
		adapter, adapter, store, store, strategy, marketCell, notifier, log)
	watcher := usecase.NewSignalWatcher(
		adapter, adapter, store, strategy, positions, predictionCell,
		cfg.Trading.Symbol, marginQuote, log)

	go feed.Run(ctx, intervalOr(cfg.Polling.MarketRefreshMs, usecase.DefaultMarketRefreshInterval))
	go positions.Run(ctx, intervalOr(cfg.Polling.ReconcileMs, usecase.DefaultReconcileInterval))
	go watcher.Run(ctx, intervalOr(cfg.Polling.SignalMs, usecase.DefaultReconcileInterval))

	log.Info("autopilot running",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.String("margin_quote", marginQuote.String()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
}
