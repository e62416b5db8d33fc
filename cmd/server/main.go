// Command server runs the allocator's HTTP API: compact submission,
// suggested-nonce, and balance reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/the-compact/allocator/internal/app"
	"github.com/the-compact/allocator/internal/config"
	"github.com/the-compact/allocator/internal/db"
	"github.com/the-compact/allocator/internal/router"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or ./config.local.yaml)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("load config: %v", err)
	}

	db.InitDB()

	container, err := app.NewServiceContainer()
	if err != nil {
		log.Fatalf("initialize service container: %v", err)
	}
	defer container.Cleanup()

	r := router.SetupRouter(container.AllocationHandler, container.AdminAuthHandler, container.ChainCache)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Printf("allocator listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("shutdown complete")
}
