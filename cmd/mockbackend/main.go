package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/hubchat/internal/config"
	"github.com/zhouzirui/hubchat/internal/handler"
	"github.com/zhouzirui/hubchat/internal/handler/speech"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	svc := backend.NewService(backend.Options{
		Models:       cfg.Server.Models,
		PendingPolls: cfg.Server.PendingPolls,
	})

	var generator ai.Generator = ai.EchoGenerator{}
	if cfg.AI.Enabled() {
		chain, err := ai.NewChainGenerator(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI generator: %v", err)
			log.Println("falling back to echo replies - 请检查 Ark 模型相关环境变量")
		} else {
			generator = chain
			log.Println("AI generator initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，使用 echo 回复")
	}

	router := handler.NewRouter(handler.Options{
		Backend:      svc,
		Generator:    generator,
		Player:       speech.LogPlayer{},
		SystemPrompt: cfg.AI.SystemPrompt,
		StreamDelay:  cfg.Server.StreamDelay,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("mock backend listening on %s, models=%v", serverCfg.Addr, serverCfg.Models)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
