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

	"github.com/loserbcc/openclaw-gateway/internal/auth"
	"github.com/loserbcc/openclaw-gateway/internal/chat"
	"github.com/loserbcc/openclaw-gateway/internal/config"
	"github.com/loserbcc/openclaw-gateway/internal/hub"
	internalhttp "github.com/loserbcc/openclaw-gateway/internal/http"
	"github.com/loserbcc/openclaw-gateway/internal/provider"
	"github.com/loserbcc/openclaw-gateway/internal/store"
	"github.com/loserbcc/openclaw-gateway/internal/ws"
)

func main() {
	cfg := config.Load()

	token, err := cfg.EnsureToken()
	if err != nil {
		log.Fatalf("Failed to provision auth token: %v", err)
	}

	messageStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}

	sessionHub := hub.NewHub()
	llm := provider.NewLLM(cfg)
	tts := provider.NewTTS(cfg)
	asr := provider.NewASR(cfg)
	verifier := auth.NewVerifier(token)
	runner := chat.NewRunner(messageStore, llm, tts)

	wsServer := ws.NewServer(cfg, sessionHub, verifier, runner)
	httpServer := internalhttp.NewServer(sessionHub, messageStore, llm, asr, cfg.UploadDir, wsServer.HandleGateway)

	ctx, cancel := context.WithCancel(context.Background())
	go sessionHub.RunHeartbeat(ctx, cfg.HeartbeatInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Println("==================================================")
	log.Println("OpenClaw Gateway v0.1.0")
	log.Printf("WSS endpoint: ws://%s/gateway", addr)
	log.Printf("REST endpoint: http://%s", addr)
	tokenPrefix := token
	if len(tokenPrefix) > 12 {
		tokenPrefix = tokenPrefix[:12]
	}
	log.Printf("Auth token: %s...", tokenPrefix)
	info := llm.Info(ctx)
	model := info.Model
	if model == "" {
		model = "none"
	}
	log.Printf("LLM: %s (%s)", info.Provider, model)
	log.Println("==================================================")

	go func() {
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	if err := messageStore.Close(); err != nil {
		log.Printf("Failed to close message store: %v", err)
	}

	log.Println("Gateway stopped")
}
