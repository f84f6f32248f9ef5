package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trading-hub/src/config"
	"trading-hub/src/helpers"
	"trading-hub/src/logger"
	"trading-hub/src/metrics"
	"trading-hub/src/relay"
	"trading-hub/src/server"

	"github.com/jonboulle/clockwork"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// 2. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 3. Setup Logger
	appLogger := logger.NewLogger(conf.MConfig, conf.Name)
	if limit := helpers.ApplyMemoryLimit(conf.MemoryLimitPercent); limit > 0 {
		appLogger.Info("Memory limit set to: %d MB", limit>>20)
	}

	// 4. Setup Components
	registry := metrics.NewRegistry()
	m := metrics.New(registry)
	clock := clockwork.NewRealClock()

	networkManager := setupNetwork(conf.MConfig, appLogger)
	sources, executor := setupSources(conf.MConfig, appLogger, networkManager)

	db, err := setupDatabase(conf.MConfig, appLogger)
	if err != nil {
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	hub := server.NewHub(conf.MConfig, appLogger.Named("Hub"), m, clock)
	pub := setupPublisher(conf.MConfig, appLogger, sources, hub, db, m, clock)

	var actions *relay.ActionRelay
	if executor != nil {
		actions = relay.NewActionRelay(conf.MConfig, appLogger.Named("ActionRelay"), executor, hub, hub, m, clock)
		actions.SetPortfolioRefresher(pub)
		hub.SetActionSubmitter(actions)
	}

	bus, err := setupFanout(conf.MConfig, appLogger)
	if err != nil {
		os.Exit(1)
	}
	if bus != nil {
		hub.SetFanoutBus(bus)
		defer bus.Close()
	}

	liveness := server.NewLivenessMonitor(hub, time.Duration(conf.Liveness.IntervalSeconds)*time.Second, appLogger.Named("Liveness"))
	httpServer := server.NewHTTPServer(conf.MConfig, appLogger.Named("HTTPServer"), hub, pub, registry)

	// 5. Run background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){hub.Run, liveness.Run, pub.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	// 6. Start Servers
	grpcServer := startServers(conf.MConfig, appLogger, httpServer, hub)

	// 7. Wait for a shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Received %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(shutdownCtx); err != nil {
		appLogger.Warning("HTTP shutdown: %v", err)
	}

	cancel()
	if actions != nil {
		actions.Wait()
	}
	wg.Wait()
	appLogger.Info("Shutdown complete.")
}
