package main

import (
	"fmt"
	"net"

	"trading-hub/src/grpc_control"
	"trading-hub/src/logger"
	"trading-hub/src/models"
	"trading-hub/src/server"

	"google.golang.org/grpc"
)

// -----------------------------------------------------------------------------

// startServers starts the HTTP/WebSocket server and, when enabled, the gRPC
// control server. It returns the gRPC server for shutdown, or nil.
func startServers(config *models.MConfig, appLogger *logger.Logger, httpServer *server.HTTPServer, hub *server.Hub) *grpc.Server {
	// 1. HTTP + WebSocket
	go func() {
		if err := httpServer.Start(); err != nil {
			appLogger.Critical("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	if !config.Grpc.Enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", config.Grpc.Host, config.Grpc.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		appLogger.Critical("failed to listen for gRPC: %v", err)
	}

	grpcLogger := appLogger.Named("ControlService")
	grpcServer := grpc_control.NewServer(grpcLogger)
	grpc_control.RegisterControlServer(grpcServer, grpc_control.NewControlService(hub, grpcLogger))

	go func() {
		appLogger.Info("Starting gRPC Control Server on %s", addr)
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("gRPC server stopped: %v", err)
		}
	}()
	return grpcServer
}
