package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitUserKHS/neighbortalk/internal/backend"
	"github.com/gitUserKHS/neighbortalk/internal/config"
	"github.com/gitUserKHS/neighbortalk/internal/notify"
	"github.com/gitUserKHS/neighbortalk/internal/session"
	"github.com/gitUserKHS/neighbortalk/internal/stats"
	"github.com/gitUserKHS/neighbortalk/internal/store"
	"github.com/gitUserKHS/neighbortalk/internal/transport"
	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
)

var (
	baseURL      string
	websocketURL string
	debugAddr    string
	sessionToken string
)

func main() {
	godotenv.Load()

	flag.StringVar(&baseURL, "base-url", envOr("NT_BASE_URL", "http://localhost:8080"), "chat backend base URL")
	flag.StringVar(&websocketURL, "ws-url", envOr("NT_WS_URL", "ws://localhost:8080/ws"), "live transport URL")
	flag.StringVar(&debugAddr, "debug-addr", envOr("NT_DEBUG_ADDR", "localhost:6060"), "debug HTTP server address")
	flag.StringVar(&sessionToken, "token", os.Getenv("NT_SESSION_TOKEN"), "session token")
	flag.Parse()

	logger := log.New(os.Stderr, "[neighbortalk] ", log.LstdFlags)

	cfg, err := config.NewConfig(baseURL, websocketURL, debugAddr)
	if err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	be := backend.NewHTTPChatBackend(cfg.BaseURL, sessionToken, &http.Client{Timeout: cfg.RequestTimeout})

	router := notify.NewRouter(logger, statsUpdater)
	conn := transport.NewManager(logger, cfg.WebsocketURL, nil, router, statsUpdater, cfg.MaxReconnects, cfg.ReconnectBackoff)
	messages := store.NewMessageStore(logger, be, conn, statsUpdater, cfg.PageSize)
	rooms := store.NewRoomListStore(logger, be, cfg.PageSize)

	gate := session.NewGate(logger, be, conn, messages, rooms, router)
	be.SetUnauthorizedHook(gate.HandleUnauthorized)

	auth := session.NewBackendAuthProvider(be, sessionToken)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := gate.Start(ctx, auth); err != nil {
		logger.Println("session start:", err)
	}
	cancel()

	debugSrv := &http.Server{
		Addr: cfg.DebugAddr,
		Handler: handlers.CORS(
			handlers.AllowedMethods([]string{http.MethodGet}),
			handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		)(handlers.LoggingHandler(os.Stderr, mux)),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- debugSrv.ListenAndServe()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("debug server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := debugSrv.Shutdown(shutDownCtx); err != nil {
		logger.Println("debug server shutdown:", err)
	}

	gate.Stop()
	logger.Println("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
