// Package main provides the quiz relay server binary: it serves the web
// client bundle and coordinates live game sessions over websockets.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizrelay/internal/config"
	"github.com/cory-johannsen/quizrelay/internal/frontend/ws"
	"github.com/cory-johannsen/quizrelay/internal/game/relay"
	"github.com/cory-johannsen/quizrelay/internal/game/session"
	"github.com/cory-johannsen/quizrelay/internal/observability"
	"github.com/cory-johannsen/quizrelay/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	store := session.NewStore()
	rly := relay.New(store, logger.Named("relay"))
	acceptor := ws.NewAcceptor(cfg.Server, cfg.Websocket, rly, logger.Named("ws"))

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("relay server initialized",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
