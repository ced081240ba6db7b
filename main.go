package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/live-chat/config"
	"github.com/example/live-chat/modules/activity"
	"github.com/example/live-chat/modules/api"
	"github.com/example/live-chat/modules/chat"
	"github.com/example/live-chat/modules/identity"
	"github.com/example/live-chat/modules/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Live Chat - Fiber WebSocket + EventBus ===")

	cfg := config.Load()

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	// Create modules
	storeModule := store.NewModule(store.Options{
		DBPath:        cfg.DBPath,
		Debug:         cfg.DBDebug,
		RetryAttempts: cfg.StoreRetryAttempts,
		RetryBackoff:  cfg.StoreRetryBackoff,
	}, logger.WithModule("store"))

	chatModule := chat.NewModule(storeModule, chat.Options{
		HistoryLimit: cfg.HistoryLimit,
		OutboxSize:   cfg.OutboxSize,
	}, logger.WithModule("chat"))

	activityModule := activity.NewModule(logger.WithModule("activity"))

	provider := identity.NewJWTProvider(identity.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
	})

	apiModule := api.NewModule(api.Options{
		Port:               cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HistoryLimit:       cfg.HistoryLimit,
	}, chatModule.Engine(), provider, logger.WithModule("api"))

	// The activity counters are read in-process, not via ServiceContainer.
	apiModule.SetActivity(activityModule)

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - store: gorm/sqlite message store (ServiceProviderModule)
	// - chat: broadcast engine (EventEmitterModule)
	// - activity: event consumer keeping counters (EventConsumerModule)
	// - api: Fiber HTTP/WebSocket server (depends on store)
	for _, module := range []mono.Module{storeModule, chatModule, activityModule, apiModule} {
		if err := app.Register(module); err != nil {
			log.Fatalf("Failed to register %s module: %v", module.Name(), err)
		}
	}

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg config.Config) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("  - Database: %s", cfg.DBPath)
	log.Printf("  - History on connect: %d messages", cfg.HistoryLimit)
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", cfg.Port)
	log.Println("  GET    /health                 - Health check")
	log.Println("  GET    /api/v1/messages        - Recent messages (?limit=N)")
	log.Println("  GET    /api/v1/presence        - Online and typing users")
	log.Println("  GET    /api/v1/activity        - Activity counters")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", cfg.Port)
	log.Println("  Connect with: ws://localhost:" + cfg.Port + "/ws?token=<jwt>")
	log.Println("  Actions: chat message, typing, like message, edit message, delete message")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
