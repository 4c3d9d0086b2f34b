package main

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipmate/internal/access"
	"shipmate/internal/api"
	"shipmate/internal/auth"
	"shipmate/internal/config"
	"shipmate/internal/gateway"
	"shipmate/internal/httpserver"
	"shipmate/internal/storage"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret:   base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		CacheTTL: cfg.TokenCacheTTL,
	})
	if err != nil {
		return err
	}

	controller := access.NewController(store)
	hub := gateway.NewHub()
	service := gateway.NewService(hub, controller, store)
	wsServer := gateway.NewServer(verifier, hub, service)

	handlers := api.New(verifier, store, service, controller)
	apiServer := httpserver.New(handlers.Routes(wsServer.HandleConnections), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start()
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
