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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/config"
	"github.com/personaforge/backend/internal/handler"
	chatservice "github.com/personaforge/backend/internal/service/chat"
	"github.com/personaforge/backend/internal/service/coach"
	"github.com/personaforge/backend/internal/session"
	"github.com/personaforge/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", cfg.Store.Path, err)
	}
	defer st.Close()

	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without model capability - check the ARK_* environment variables")
			chatModel = nil
		} else {
			log.Println("chat model initialized")
		}
	} else {
		log.Println("Ark credentials not configured, model capability will report unavailable")
	}

	runtime := capability.NewArkRuntime(chatModel, cfg.AI.Params())
	monitor := capability.NewMonitor(runtime)
	log.Printf("[capability] initial state: %s", monitor.Check(ctx))

	sessions := session.NewManager(runtime, monitor)
	chatSvc := chatservice.NewService(st, sessions)
	analyzer := coach.NewAnalyzer(st, sessions, cfg.Coach.MaxSnapshots)

	router := handler.NewRouter(handler.RouterDeps{
		Store:          st,
		Monitor:        monitor,
		ChatSvc:        chatSvc,
		Analyzer:       analyzer,
		RecordingLimit: time.Duration(cfg.Coach.RecordingLimitSeconds) * time.Second,
		MaxSnapshots:   cfg.Coach.MaxSnapshots,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("PersonaForge backend listening on %s", addr)
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
