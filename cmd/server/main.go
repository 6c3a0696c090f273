package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/stemscore/internal/acquire"
	"github.com/makeasinger/stemscore/internal/analyzer"
	"github.com/makeasinger/stemscore/internal/client"
	"github.com/makeasinger/stemscore/internal/config"
	"github.com/makeasinger/stemscore/internal/handler"
	"github.com/makeasinger/stemscore/internal/middleware"
	"github.com/makeasinger/stemscore/internal/results"
	"github.com/makeasinger/stemscore/internal/server"
	"github.com/makeasinger/stemscore/internal/service"
	ws "github.com/makeasinger/stemscore/internal/websocket"
	"github.com/makeasinger/stemscore/internal/worker"
	"github.com/makeasinger/stemscore/internal/workspace"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := workspace.NewFSStore(cfg.Storage.Base)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	log.Printf("Storing job workspaces in %s", store.Base())

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Job records fall back to memory when Redis is down at startup
	var jobs service.JobStore = service.NewRedisJobStore(redisClient)
	redisUp := true
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis not available, job records kept in memory: %v", err)
		jobs = service.NewMemoryJobStore()
		redisUp = false
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	streamer := acquire.NewYouTubeStreamer(&http.Client{})
	acquirer := acquire.New(streamer, acquire.Options{
		AllowedHosts: cfg.Remote.AllowedHosts,
		SniffAudio:   cfg.Upload.SniffAudio,
	})
	invoker := analyzer.NewCommand(cfg.Worker.Command, cfg.Worker.Args, cfg.Worker.Dir, validate)

	pipelineCfg := service.PipelineConfig{
		Workspaces: store,
		Acquirer:   acquirer,
		Invoker:    invoker,
		Projector:  results.NewProjector(cfg.Server.PublicBaseURL),
		Jobs:       jobs,
		Notifier:   hub,
		Queue:      asynqClient,
		Timeout:    cfg.Processing.RequestTimeout,
	}
	if cfg.R2.Enabled() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: archive mirror disabled: %v", err)
		} else {
			pipelineCfg.Mirror = r2Client
			log.Printf("Mirroring archives to bucket %s", cfg.R2.BucketName)
		}
	}
	pipeline := service.NewPipeline(pipelineCfg)

	var rateLimiter *middleware.RateLimiter
	if redisUp {
		rateLimiter = middleware.NewRateLimiter(redisClient)
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	if authMiddleware.Enabled() {
		log.Println("Bearer auth enabled on submission routes")
	}

	app := server.New(server.Deps{
		Pipeline:       pipeline,
		Gateway:        results.NewGateway(store),
		Validator:      validate,
		Hub:            hub,
		Auth:           authMiddleware,
		RateLimiter:    rateLimiter,
		Health:         handler.NewHealthHandler(cfg.Worker.Command, redisClient, pipelineCfg.Mirror != nil, authMiddleware.Enabled()),
		ProcessPerHour: cfg.RateLimit.ProcessPerHour,
		BodyLimitMB:    cfg.Server.BodyLimitMB,
		LogLevel:       cfg.Server.LogLevel,
	})

	// Start Asynq worker server and scheduler
	srv := newWorkerServer(cfg, redisOpt)
	go runWorkerServer(srv, pipeline, store, cfg)
	scheduler := newReapScheduler(cfg, redisOpt)
	if scheduler != nil {
		go func() {
			if err := scheduler.Run(); err != nil {
				log.Printf("Asynq scheduler error: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if scheduler != nil {
			scheduler.Shutdown()
		}
		srv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	concurrency := cfg.Processing.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueAnalysis:    9,
			service.QueueMaintenance: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
}

func runWorkerServer(srv *asynq.Server, pipeline *service.Pipeline, store workspace.Store, cfg *config.Config) {
	analysisWorker := worker.NewAnalysisWorker(pipeline)
	reapWorker := worker.NewReapWorker(store, cfg.Storage.Retention)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeAnalysis, analysisWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeReap, reapWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func newReapScheduler(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Scheduler {
	if cfg.Storage.ReapSchedule == "" || cfg.Storage.Retention <= 0 {
		return nil
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})
	if _, err := scheduler.Register(cfg.Storage.ReapSchedule, worker.NewReapTask(),
		asynq.Queue(service.QueueMaintenance),
		asynq.MaxRetry(0),
	); err != nil {
		log.Printf("Warning: workspace reaper not scheduled: %v", err)
		return nil
	}
	log.Printf("Workspace reaper scheduled %q (retention %s)", cfg.Storage.ReapSchedule, cfg.Storage.Retention)
	return scheduler
}
