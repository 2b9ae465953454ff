package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"liftsync/internal/api"
	"liftsync/internal/auth"
	"liftsync/internal/broker"
	"liftsync/internal/cache"
	"liftsync/internal/config"
	"liftsync/internal/database"
	"liftsync/internal/engine"
	"liftsync/internal/session"
	"liftsync/internal/state"
	"liftsync/internal/websocket"
)

// Application coordinates all system components with proper initialization
// order: Database -> Redis -> Repositories -> State -> Engine -> WS -> API
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	redis      *redis.Client
	eng        *engine.Engine
	httpServer *http.Server
}

// NewApplication wires every component. A failed step tears down what came
// before it.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := dbManager.Migrate(ctx); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	kv := cache.NewRedisKV(redisClient)
	bus := broker.NewRedisBroker(redisClient)

	pool := dbManager.Pool()
	sessions := session.NewRepository(pool)
	accounts := session.NewAccountRepository(pool)
	exercises := session.NewExerciseRepository(pool)
	stateRepo := state.NewPostgresRepository(pool)
	states := state.NewStore(stateRepo, kv, sessions, cfg.Engine.Namespace, cfg.Engine.StateTTL)

	eng := engine.New(engine.Config{
		InstanceID: cfg.Engine.InstanceID,
		Namespace:  cfg.Engine.Namespace,
		MirrorTTL:  cfg.Engine.MirrorTTL,
		RateLimit:  cfg.Engine.RateLimit,
	}, kv, bus, sessions, states)

	tokens := auth.NewTokenService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	wsHandler := websocket.NewHandler(eng, tokens, sessions)
	apiServer := api.NewServer(accounts, sessions, exercises, tokens, dbManager, eng)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		redis:      redisClient,
		eng:        eng,
		httpServer: httpServer,
	}, nil
}

// Start runs the engine listener, then accepts HTTP traffic. Blocks until
// the HTTP server exits.
func (app *Application) Start(ctx context.Context) error {
	if err := app.eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	log.Printf("Application: serving on %s (instance %s)", app.httpServer.Addr, app.config.Engine.InstanceID)
	if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts components down in reverse order: HTTP first so no new
// connections arrive, then the engine, then the stores.
func (app *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Application: http shutdown: %v", err)
	}
	if err := app.eng.Stop(shutdownCtx); err != nil && err != engine.ErrEngineNotRunning {
		log.Printf("Application: engine stop: %v", err)
	}
	if err := app.redis.Close(); err != nil {
		log.Printf("Application: redis close: %v", err)
	}
	app.dbManager.Close()

	log.Println("Application: stopped")
	return nil
}
