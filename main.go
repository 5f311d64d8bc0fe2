package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/elizastream/server/api"
	"github.com/elizastream/server/chat"
	"github.com/elizastream/server/clock"
	"github.com/elizastream/server/config"
	"github.com/elizastream/server/generator"
	"github.com/elizastream/server/history"
	"github.com/elizastream/server/hub"
	"github.com/elizastream/server/logger"
	"github.com/elizastream/server/mcp"
	"github.com/elizastream/server/middleware"
	"github.com/elizastream/server/persona"
	"github.com/elizastream/server/session"
	"github.com/elizastream/server/telemetry"
	"github.com/elizastream/server/ws"
)

var version = "dev"

func newHandler(cfg *config.Config, room *chat.Orchestrator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"pong"}`))
	})

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", ws.NewHandler(room, cfg.DevMode))

	chatHandler := api.NewChatHandler(room)
	mux.HandleFunc("POST /api/chat", chatHandler.HandleChat)

	admin := middleware.Auth(cfg.AdminToken)
	mux.Handle("POST /api/clear", admin(http.HandlerFunc(chatHandler.HandleClear)))
	mux.Handle("GET /api/history", admin(http.HandlerFunc(chatHandler.HandleHistory)))
	mux.Handle("GET /admin/rpc", admin(ws.NewRPCHandler(room, cfg.DevMode)))
	mux.Handle("/mcp", admin(mcp.NewServer(room, version).Handler()))

	return middleware.CORS(mux)
}

func newRoom(cfg *config.Config, prompts generator.PromptSource) *chat.Orchestrator {
	gen := generator.NewOpenAI(
		generator.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		prompts,
		generator.OpenAIConfig{
			Model:        cfg.OpenAIModel,
			Temperature:  cfg.OpenAITemperature,
			MaxTokens:    cfg.OpenAIMaxTokens,
			HistoryLimit: cfg.GeneratorHistory,
		},
	)

	return chat.NewOrchestrator(
		chat.Config{
			ResponderName:    cfg.ResponderName,
			FallbackText:     cfg.FallbackText,
			MaxMessageLength: cfg.MaxMessageLength,
			GeneratorTimeout: cfg.GeneratorTimeout,
		},
		session.NewRegistry(cfg.ContextWindow),
		history.NewLog(),
		hub.New(),
		gen,
		clock.New(),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireGenerator(); err != nil {
		return err
	}

	logger.Init(logger.ConfigFromEnv())
	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("elizastream", version)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	prompts, err := persona.NewStore(cfg.PersonaFile)
	if err != nil {
		return err
	}
	if err := prompts.StartWatching(); err != nil {
		slog.Warn("persona hot reload disabled", "error", err)
	}
	defer prompts.StopWatching()

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set, admin routes are unprotected")
	}

	room := newRoom(cfg, prompts)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hijacked websocket connections are not closed by Shutdown; cancelling
	// the base context ends their read loops.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newHandler(cfg, room),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "version", version, "responder", cfg.ResponderName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.PublicURL != "" {
		printBanner(os.Stdout, cfg.PublicURL)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := room.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight replies abandoned", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	cancelBase()
	room.Close()

	slog.Info("server stopped")
	return nil
}

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "elizastream",
		Short:         "Realtime chat room with an automated responder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE:  runServe,
	})
	root.AddCommand(newClearCmd(), newHistoryCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
