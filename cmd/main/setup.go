package main

import (
	"context"
	"time"

	"trading-hub/src/data_source/brokerage"
	"trading-hub/src/data_source/news"
	"trading-hub/src/data_source/yahoo"
	"trading-hub/src/fanout"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/models"
	"trading-hub/src/network"
	"trading-hub/src/publisher"
	"trading-hub/src/storage"
	"trading-hub/src/utils"

	"github.com/jonboulle/clockwork"
)

// -----------------------------------------------------------------------------

// setupNetwork initializes the network manager
func setupNetwork(config *models.MConfig, appLogger *logger.Logger) interfaces.INetworkManager {
	return network.NewAsyncNetworkManager(config, appLogger.Named("NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupSources builds the collaborators the publisher polls and the relay
// executes against. Unconfigured collaborators are left nil.
func setupSources(config *models.MConfig, appLogger *logger.Logger, networkManager interfaces.INetworkManager) (publisher.Sources, interfaces.IActionExecutor) {
	var sources publisher.Sources
	var executor interfaces.IActionExecutor

	if config.Brokerage.BaseURL != "" {
		broker := brokerage.NewBrokerageSource(config, networkManager, appLogger.Named("Brokerage"))
		sources.Portfolio = broker
		executor = broker
		appLogger.Info("Brokerage: %s", config.Brokerage.BaseURL)
	} else {
		appLogger.Warning("No brokerage configured: portfolio updates and trading actions disabled")
	}

	if len(config.Market.Symbols) > 0 || config.Market.ReferenceSymbol != "" {
		sources.Market = yahoo.NewYahooMarketSource(config, networkManager, appLogger.Named("MarketSource"))
		appLogger.Info("Market source: %s + %d symbols", config.Market.ReferenceSymbol, len(config.Market.Symbols))
	}

	if config.News.FeedURL != "" {
		sources.News = news.NewNewsFeedSource(config, networkManager, appLogger.Named("NewsSource"))
		appLogger.Info("News feed: %s", config.News.FeedURL)
	}

	return sources, executor
}

// -----------------------------------------------------------------------------

// setupDatabase opens the archive. Returns nil when storage is disabled.
func setupDatabase(config *models.MConfig, appLogger *logger.Logger) (interfaces.IDatabase, error) {
	if !config.Storage.Enabled {
		appLogger.Info("Storage disabled")
		return nil, nil
	}

	db, err := storage.NewDatabase(config, appLogger.Named("Storage"))
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		db.Close()
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupPublisher wires the change-gated publisher to the hub's event queue.
func setupPublisher(
	config *models.MConfig,
	appLogger *logger.Logger,
	sources publisher.Sources,
	sink interfaces.IEventSink,
	db interfaces.IDatabase,
	m *metrics.Metrics,
	clock clockwork.Clock,
) *publisher.ChangeGatedPublisher {
	pub := publisher.NewChangeGatedPublisher(config, appLogger.Named("Publisher"), sources, sink, m, clock)
	if db != nil {
		pub.SetArchive(db)
	}

	symbols := append([]string{config.Market.ReferenceSymbol}, config.Market.Symbols...)
	scheduler := utils.NewMarketScheduler(symbols, clock, appLogger.Named("MarketScheduler"))
	pub.SetScheduler(scheduler)
	appLogger.Info("Tracking trading calendars: %v", scheduler.Calendars())
	return pub
}

// -----------------------------------------------------------------------------

// setupFanout connects to Redis when cross-instance fanout is enabled.
func setupFanout(config *models.MConfig, appLogger *logger.Logger) (*fanout.RedisBus, error) {
	if !config.Redis.Enabled {
		return nil, nil
	}

	bus, err := fanout.NewRedisBus(config.Redis, appLogger.Named("Fanout"))
	if err != nil {
		appLogger.Error("Failed to init redis fanout: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bus.Ping(ctx); err != nil {
		appLogger.Error("Redis unreachable: %v", err)
		bus.Close()
		return nil, err
	}
	appLogger.Info("Redis fanout on channel %s", config.Redis.Channel)
	return bus, nil
}
