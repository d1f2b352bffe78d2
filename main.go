package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tempora-app/tempora/internal/adapter/llm"
	"github.com/tempora-app/tempora/internal/config"
	"github.com/tempora-app/tempora/internal/hub"
	"github.com/tempora-app/tempora/internal/service"
	"github.com/tempora-app/tempora/internal/store"
	"github.com/tempora-app/tempora/internal/tool"
	transport "github.com/tempora-app/tempora/internal/transport/http"
	"github.com/tempora-app/tempora/internal/ws"
	"github.com/tempora-app/tempora/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting tempora...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM URL: %s", cfg.LLMBaseURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize broadcast hub
	h := hub.NewHub()
	go h.Run()

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)

	// Register tools
	registry := tool.NewRegistry()
	tool.RegisterCalendarTools(registry)
	tool.RegisterTimeTools(registry)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize service
	svc := service.New(db, llmClient, h, registry, policyEngine, cfg)

	// Initialize servers
	wsServer := ws.NewServer(cfg, h, db)
	e := transport.NewServer(svc, wsServer)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down tempora...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Tempora stopped")
}
