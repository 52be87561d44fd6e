package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/conf"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/data"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/server"
	"github.com/operatorhq/whatsapp-hitl-bridge/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Data layer
	messenger := data.NewUltraMsgRepo(cfg.UltraMsg)
	agent := data.NewOpenAIAgent(cfg.OpenAI)
	gateway := data.NewGatewayRepo(cfg.Gateway)

	patterns, err := data.NewPatternRepo(cfg.PatternsDBPath)
	if err != nil {
		log.Fatalf("Failed to open patterns store: %v", err)
	}

	// Core
	state := usecase.NewRouterState()
	guard := usecase.NewLoopGuard(cfg.ToGuardConfig(), state)
	store := usecase.NewActionStore(cfg.ActionTTL())
	matcher := usecase.NewApprovalMatcher(store, patterns)

	var poller *service.MailPoller
	if cfg.Gateway.MailURL != "" {
		poller = service.NewMailPoller(gateway, agent, messenger, store,
			cfg.UltraMsg.OperatorNumber,
			time.Duration(cfg.Gateway.MailCheckSeconds)*time.Second)
	}

	router := service.NewRouter(messenger, agent, gateway, guard, matcher, store, poller, cfg.Routing.CommandPrefix)

	sweeper := service.NewSweeper(store, time.Duration(cfg.Routing.SweepMinutes)*time.Minute)
	sweeper.Start()

	srv := server.NewServer(router, store, matcher, guard, gateway, cfg.WebhookPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		srv.Stop()
		sweeper.Stop()
		if poller != nil {
			poller.Stop()
		}
		if closer, ok := patterns.(io.Closer); ok {
			closer.Close()
		}
		os.Exit(0)
	}()

	fmt.Println("Starting WhatsApp HITL Bridge...")
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
