package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"trading-hub/src/config"
	"trading-hub/src/logger"
	"trading-hub/src/models"
	"trading-hub/src/session"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	url := flag.String("url", "", "hub websocket url (overrides client.url)")
	channels := flag.String("channels", "", "comma separated topics (overrides client.channels)")
	action := flag.String("action", "", "trading action to submit once connected")
	symbol := flag.String("symbol", "", "symbol for -action")
	quantity := flag.Float64("qty", 0, "quantity for -action")
	flag.Parse()

	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	clientCfg := conf.Client
	if *url != "" {
		clientCfg.URL = *url
	}
	if *channels != "" {
		clientCfg.Channels = strings.Split(*channels, ",")
	}

	appLogger := logger.NewLogger(conf.MConfig, "TradingClient")
	s := session.NewSession(clientCfg, appLogger.Named("Session"), nil)

	for _, msgType := range []string{
		models.MsgPortfolioUpdate,
		models.MsgMarketData,
		models.MsgNewsUpdate,
		models.MsgAlert,
		models.MsgTradingDecision,
		models.MsgTradingActionReceived,
		models.MsgTradingActionResult,
		models.MsgTradingActionError,
		models.MsgSubscriptionConfirmed,
		models.MsgError,
	} {
		s.On(msgType, func(msg session.Message) {
			appLogger.Info("%s: %s", msg.Type, msg.Data)
		})
	}
	s.On(models.MsgServerShutdown, func(msg session.Message) {
		appLogger.Warning("Server shutting down: %s", msg.Data)
	})

	submitted := false
	s.On(models.MsgConnection, func(msg session.Message) {
		appLogger.Info("Connected: %s", msg.Data)
		if *action == "" || submitted {
			return
		}
		submitted = true
		req := models.MActionRequest{Action: *action, Symbol: *symbol, Quantity: *quantity}
		if err := s.SubmitAction(req); err != nil {
			appLogger.Error("Failed to submit %s: %v", req.Target(), err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Session ended: %v", err)
		os.Exit(1)
	}
}
