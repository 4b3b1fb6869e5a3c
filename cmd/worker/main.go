package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"taskengine.dev/engine/common/id"
	"taskengine.dev/engine/common/llm"
	"taskengine.dev/engine/common/logger"
	"taskengine.dev/engine/common/otel"
	taskcfg "taskengine.dev/engine/core/config"
	"taskengine.dev/engine/core/db"
	"taskengine.dev/engine/internal/queue"
	"taskengine.dev/engine/internal/store"
	"taskengine.dev/engine/internal/taskengine"
	"taskengine.dev/engine/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := taskcfg.Load(taskcfg.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected")

	stores := store.NewStores(database.Pool(), redisClient)
	txRunner := store.NewTxRunner(database)

	router, isReady := buildRouter(ctx, cfg)
	plannerClient, ok := firstReadyClient(router, cfg.RouterPriority)
	if !ok {
		slog.ErrorContext(ctx, "no provider available to act as the planner's LLM client")
		os.Exit(1)
	}

	registry := taskengine.NewRegistry()
	taskengine.RegisterBuiltinTools(registry)

	guardrails := taskengine.NewGuardrails(registry)
	planner := taskengine.NewPlanner(plannerClient)
	checkpoints := taskengine.NewCheckpointManager(stores.Checkpoints())
	learner := taskengine.NewLearner(plannerClient, stores.Learnings())
	verifier := taskengine.NewVerifier(plannerClient)

	executor := taskengine.NewExecutor(
		registry,
		guardrails,
		router,
		planner,
		checkpoints,
		stores.Tasks(),
		stores.Approvals(),
		txRunner,
		stores.Events(),
		isReady,
		learner,
		verifier,
	)

	streamName := queue.DefaultStreamName
	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       streamName,
		Group:        cfg.Queue.GroupPrefix,
		Consumer:     cfg.Queue.Consumer,
		DLQStream:    streamName + cfg.Queue.DLQSuffix,
		BatchSize:    cfg.Queue.BatchSize,
		Block:        cfg.Queue.Block,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RequeueDelay: cfg.Queue.RequeueDelay,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, stores.Tasks(), executor, worker.Config{MaxAttempts: cfg.Queue.MaxAttempts})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    streamName,
		Group:     cfg.Queue.GroupPrefix,
		Consumer:  cfg.Queue.Consumer + "-reclaimer",
		MinIdle:   cfg.Queue.ReclaimMinIdle,
		Interval:  cfg.Queue.ReclaimInterval,
		BatchSize: cfg.Queue.BatchSize,
	}, consumer, w.ProcessMessage)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go reclaimer.Run(ctx)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "worker loop exited with error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "taskengine worker running", "env", cfg.Env, "stream", streamName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutdown signal received, initiating graceful shutdown...")
	cancel()

	shutdownComplete := make(chan struct{})
	go func() {
		reclaimer.Stop()
		w.Stop()
		wg.Wait()
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		slog.InfoContext(ctx, "graceful shutdown completed")
	case <-time.After(30 * time.Second):
		slog.WarnContext(ctx, "shutdown timeout exceeded, forcing exit")
	}

	slog.InfoContext(ctx, "closing database connection")
	database.Close()

	slog.InfoContext(ctx, "closing redis connection")
	if err := redisClient.Close(); err != nil {
		slog.ErrorContext(ctx, "redis close error", "error", err)
	}

	if telemetry != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "telemetry shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

// buildRouter registers every configured provider leg and returns an
// IsReadyFunc reflecting which of them actually have credentials, so the
// Router's escalation/fallback logic can skip unreachable providers instead
// of failing a step outright.
func buildRouter(ctx context.Context, cfg taskcfg.Config) (*taskengine.Router, taskengine.IsReadyFunc) {
	router := taskengine.NewRouter(taskengine.RoutingStrategy(cfg.RouterStrategy), cfg.RouterPriority)
	ready := make(map[string]bool)

	if cfg.Providers.OpenAI.Enabled() {
		client, err := llm.NewAgentClient(llm.Config{
			Provider: "openai",
			APIKey:   cfg.Providers.OpenAI.APIKey,
			BaseURL:  cfg.Providers.OpenAI.BaseURL,
			Model:    cfg.Providers.OpenAI.Model,
		})
		if err != nil {
			slog.WarnContext(ctx, "openai client init failed, disabling provider", "error", err)
		} else {
			router.RegisterProvider(taskengine.ProviderProfile{Name: "openai", Client: client, Local: false})
			ready["openai"] = true
			slog.InfoContext(ctx, "openai provider registered", "model", cfg.Providers.OpenAI.Model)
		}
	}

	if cfg.Providers.Anthropic.Enabled() {
		client, err := llm.NewAgentClient(llm.Config{
			Provider: "anthropic",
			APIKey:   cfg.Providers.Anthropic.APIKey,
			BaseURL:  cfg.Providers.Anthropic.BaseURL,
			Model:    cfg.Providers.Anthropic.Model,
		})
		if err != nil {
			slog.WarnContext(ctx, "anthropic client init failed, disabling provider", "error", err)
		} else {
			router.RegisterProvider(taskengine.ProviderProfile{Name: "anthropic", Client: client, Local: false})
			ready["anthropic"] = true
			slog.InfoContext(ctx, "anthropic provider registered", "model", cfg.Providers.Anthropic.Model)
		}
	}

	if cfg.Providers.Bedrock.Enabled() {
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Providers.Bedrock.Region))
		if err != nil {
			slog.WarnContext(ctx, "bedrock aws config load failed, disabling provider", "error", err)
		} else {
			runtime := bedrockruntime.NewFromConfig(awsCfg)
			client, err := taskengine.NewBedrockAgentClient(runtime, taskengine.BedrockConfig{Model: cfg.Providers.Bedrock.Model})
			if err != nil {
				slog.WarnContext(ctx, "bedrock client init failed, disabling provider", "error", err)
			} else {
				router.RegisterProvider(taskengine.ProviderProfile{Name: "bedrock", Client: client, Local: false})
				ready["bedrock"] = true
				slog.InfoContext(ctx, "bedrock provider registered", "region", cfg.Providers.Bedrock.Region)
			}
		}
	}

	if cfg.Providers.Ollama.Enabled() {
		client, err := taskengine.NewOllamaAgentClient(taskengine.OllamaConfig{
			BaseURL: cfg.Providers.Ollama.BaseURL,
			Model:   cfg.Providers.Ollama.Model,
		})
		if err != nil {
			slog.WarnContext(ctx, "ollama client init failed, disabling provider", "error", err)
		} else {
			router.RegisterProvider(taskengine.ProviderProfile{Name: "ollama", Client: client, Local: true})
			ready["ollama"] = true
			slog.InfoContext(ctx, "ollama provider registered", "base_url", cfg.Providers.Ollama.BaseURL)
		}
	}

	return router, func(name string) bool { return ready[name] }
}

// firstReadyClient walks priority for the first provider the router
// actually registered, falling back to any registered provider if none of
// the named priority entries are available.
func firstReadyClient(router *taskengine.Router, priority []string) (llm.AgentClient, bool) {
	for _, name := range priority {
		if client, ok := router.Client(name); ok {
			return client, true
		}
	}
	for _, name := range []string{"openai", "anthropic", "bedrock", "ollama"} {
		if client, ok := router.Client(name); ok {
			return client, true
		}
	}
	return nil, false
}

const banner = `
 ████████╗ █████╗ ███████╗██╗  ██╗███████╗███╗   ██╗ ██████╗ ██╗███╗   ██╗███████╗
 ╚══██╔══╝██╔══██╗██╔════╝██║ ██╔╝██╔════╝████╗  ██║██╔════╝ ██║████╗  ██║██╔════╝
    ██║   ███████║███████╗█████╔╝ █████╗  ██╔██╗ ██║██║  ███╗██║██╔██╗ ██║█████╗
    ██║   ██╔══██║╚════██║██╔═██╗ ██╔══╝  ██║╚██╗██║██║   ██║██║██║╚██╗██║██╔══╝
    ██║   ██║  ██║███████║██║  ██╗███████╗██║ ╚████║╚██████╔╝██║██║ ╚████║███████╗
    ╚═╝   ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝╚═╝  ╚═══╝╚══════╝
`
