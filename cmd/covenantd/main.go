package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/covenant-labs/covenant/internal/ledger"
	"github.com/covenant-labs/covenant/internal/server"
	"github.com/covenant-labs/covenant/internal/storage"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("COVENANT_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	secret := os.Getenv("COVENANT_SECRET")
	if secret == "" {
		log.Fatal("COVENANT_SECRET environment variable is required")
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	db, err := storage.NewDB(dataDir + "/covenant.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	engine := ledger.NewEngine(db)
	httpSrv := &http.Server{
		Addr:    ":" + port,
		Handler: server.New(engine, secret),
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	fmt.Printf("Covenant ledger running on http://localhost:%s\n", port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
