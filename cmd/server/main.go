package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airtopup/internal/catalog"
	"airtopup/internal/config"
	"airtopup/internal/flow"
	"airtopup/internal/fulfillment"
	"airtopup/internal/idempotency"
	"airtopup/internal/server"
	"airtopup/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var queue fulfillment.Store
	if cfg.Service.PostgresDSN != "" {
		pgStore, err := fulfillment.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			log.Fatalf("pending queue error: %v", err)
		}
		defer pgStore.Close()
		queue = pgStore
	} else {
		fileStore, err := fulfillment.NewFileStore(cfg.Service.QueueStorePath)
		if err != nil {
			log.Fatalf("pending queue error: %v", err)
		}
		queue = fileStore
	}

	replay, err := idempotency.NewFileStore(cfg.Service.ReplayStorePath)
	if err != nil {
		log.Fatalf("replay store error: %v", err)
	}

	var session wallet.Client
	if cfg.Chain.PrivateKey != "" {
		ethWallet, err := wallet.NewEthWallet(ctx, wallet.EthWalletConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			TopupContract: cfg.Chain.TopupContract,
		})
		if err != nil {
			log.Fatalf("wallet error: %v", err)
		}
		session = ethWallet
	} else {
		log.Printf("CHAIN_PRIVATE_KEY not set, using fake wallet")
		session = wallet.NewFakeWallet("0x0000000000000000000000000000000000000001", 84532)
	}

	fulfillClient := fulfillment.NewClient(cfg.Provider.BaseURL, cfg.Provider.HTTPTimeout)
	catalogClient := catalog.NewClient(cfg.Provider.BaseURL, cfg.Provider.HTTPTimeout)

	controller := flow.NewController(flow.Config{
		Tokens:              cfg.Chain.Tokens,
		TopupContract:       cfg.Chain.TopupContract,
		Mode:                flow.PaymentMode(cfg.Chain.PaymentMode),
		TokenSymbol:         cfg.Chain.TokenSymbol,
		TokenDecimals:       cfg.Chain.TokenDecimals,
		ConfirmationTimeout: cfg.Chain.ConfirmationTimeout,
	}, fulfillClient, queue, nil)

	apiServer := server.NewServer(cfg, controller, session, catalogClient, queue, replay)
	controller.SetStateListener(apiServer.StateHook)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	worker := fulfillment.NewWorker(queue, fulfillClient, fulfillment.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		Interval:          cfg.Retry.WorkerInterval,
	}, nil)
	go worker.Run(workerCtx)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
