package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dcode.dev/mentor-hub/internal/api"
	"dcode.dev/mentor-hub/internal/auth"
	"dcode.dev/mentor-hub/internal/config"
	"dcode.dev/mentor-hub/internal/core"
	"dcode.dev/mentor-hub/internal/kv"
	"dcode.dev/mentor-hub/internal/logger"
	"dcode.dev/mentor-hub/internal/store"
)

const sessionSweepInterval = 5 * time.Minute

func main() {
	configFile := flag.String("config", "", "Optional config file (yaml, json, toml or env)")
	seedFile := flag.String("seed", "", "Import user profiles from a JSON file and exit")
	flag.Parse()

	if err := config.LoadConfig(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: config.AppConfig.LogLevel, Format: config.AppConfig.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	if config.AppConfig.GeneratedJWTSecret {
		log.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	}

	ctx := context.Background()

	opener, err := newOpener(ctx, log)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.String("backend", config.AppConfig.StoreBackend), zap.Error(err))
	}
	defer opener.Close()

	if *seedFile != "" {
		if err := seed(ctx, opener, *seedFile, log); err != nil {
			log.Fatal("Seeding failed", zap.String("file", *seedFile), zap.Error(err))
		}
		return
	}

	generator := newGenerator(ctx, log)
	defer generator.Close()

	sessions := api.NewSessionManager(core.Deps{
		Opener:        opener,
		Gateway:       core.NewGateway(generator, log),
		Communities:   core.NewCommunityService(log),
		Bookings:      core.NewBookingService(log),
		TypingTimeout: config.AppConfig.TypingTimeout,
		Logger:        log,
	}, auth.TokenTTL, log)
	sessions.StartSweeper(sessionSweepInterval)

	apiHandler := api.NewAPIHandler(sessions, log)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // model calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting server", zap.String("addr", serverAddr), zap.String("store", config.AppConfig.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	sessions.CloseAll(shutdownCtx)

	log.Info("Server exiting gracefully")
}

func newOpener(ctx context.Context, log *zap.Logger) (kv.Opener, error) {
	cfg := config.AppConfig
	switch cfg.StoreBackend {
	case "memory":
		return kv.NewMemoryHub(), nil
	case "redis":
		return kv.NewRedisOpener(ctx, kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		}, log)
	default:
		return kv.NewSQLiteOpener(cfg.DatabaseURL, cfg.SQLitePollInterval, log)
	}
}

// newGenerator picks the configured model provider. Without an API key the
// gateway still works and answers every request with its fallbacks.
func newGenerator(ctx context.Context, log *zap.Logger) core.Generator {
	cfg := config.AppConfig
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return core.NewOpenAIService(cfg.OpenAIAPIKey, cfg.ChatModel, log)
		}
	default:
		if cfg.GeminiAPIKey != "" {
			gen, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.ChatModel, log)
			if err == nil {
				return gen
			}
			log.Error("Failed to create Gemini client", zap.Error(err))
		}
	}
	log.Warn("No AI provider configured; AI features will use fallbacks", zap.String("provider", cfg.AIProvider))
	return core.NewUnavailableGenerator()
}

func seed(ctx context.Context, opener kv.Opener, path string, log *zap.Logger) error {
	handle, err := opener.Open(ctx)
	if err != nil {
		return err
	}
	defer handle.Close()

	dir := core.NewUserDirectory(ctx, store.NewAdapter(handle, log), core.DefaultUsers(), log)
	n, err := dir.ImportFile(ctx, path)
	if err != nil {
		return err
	}
	log.Info("Seeding complete", zap.Int("imported", n))
	return nil
}
