// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"content-pipeline-service/internal/config"
	"content-pipeline-service/internal/entity"
	"content-pipeline-service/internal/orchestrator"
	"content-pipeline-service/internal/progress"
	"content-pipeline-service/internal/relay"
	"content-pipeline-service/internal/remote"
	"content-pipeline-service/internal/repository/postgresql"
	"content-pipeline-service/internal/service"
	"content-pipeline-service/internal/template"
	"content-pipeline-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[worker] dotenv: %v", err)
	}

	cfg := config.Load()
	if cfg.PostgresDSN == "" {
		log.Fatal("missing env: POSTGRES_DSN")
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	templates, err := template.LoadFile(cfg.TemplatesPath)
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	// DI
	repo := postgresql.NewRunRepository(pool)
	progressStore := progress.NewPostgres(pool)

	queue := service.NewRedisRunQueue(
		rdb,
		cfg.ProcessingMapKey,
		service.Lane{QueueKey: cfg.QueueKey + ":low", ProcessingKey: cfg.ProcessingKey + ":low"},
		service.Lane{QueueKey: cfg.QueueKey + ":normal", ProcessingKey: cfg.ProcessingKey + ":normal"},
		service.Lane{QueueKey: cfg.QueueKey + ":high", ProcessingKey: cfg.ProcessingKey + ":high"},
	)

	// Reaper: возвращает runs из processing обратно в queue
	// (если воркер падал/перезапускался)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, 100)
				if err != nil {
					log.Printf("requeue error: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("requeued %d runs from processing", n)
				}
			}
		}
	}()

	// объектное хранилище
	store, err := relay.NewS3Store(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		log.Fatalf("s3: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("s3 bucket: %v", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	artifactRelay := relay.New(httpClient, store, cfg.ScratchDir, cfg.RelayAttempts, cfg.RelayBackoff)
	budget := remote.Budget{MaxPolls: cfg.MaxPolls, MaxWait: cfg.MaxWait}

	runners := map[entity.Stage]worker.StageRunner{}

	if cfg.FaceSwapURL != "" {
		api := &remote.FaceSwap{BaseURL: cfg.FaceSwapURL, APIKey: cfg.FaceSwapAPIKey}
		runners[entity.StageSwap] = newRunner(cfg, templates, progressStore, artifactRelay, api, httpClient, budget)
	}
	if cfg.EnhanceURL != "" {
		api := &remote.Enhance{BaseURL: cfg.EnhanceURL, APIKey: cfg.EnhanceAPIKey}
		runners[entity.StageEnhance] = newRunner(cfg, templates, progressStore, artifactRelay, api, httpClient, budget)
	}
	if cfg.ComfyURL != "" {
		workflow, nodes, err := remote.LoadWorkflow(cfg.WorkflowPath)
		if err != nil {
			log.Fatalf("workflow: %v", err)
		}
		api := &remote.GPURender{BaseURL: cfg.ComfyURL, Workflow: workflow, Nodes: nodes}
		runners[entity.StageRender] = newRunner(cfg, templates, progressStore, artifactRelay, api, httpClient, budget)
	}

	if len(runners) == 0 {
		log.Fatal("no stage runners configured: set FACESWAP_URL, ENHANCE_URL or COMFY_URL")
	}

	processor := worker.NewProcessor(repo, runners)
	poolWorkers := worker.NewPool(queue, processor, cfg.Workers)

	log.Printf("[worker] config workers=%d stages=%d redis_addr=%s queue_key=%s postgres_dsn=%s",
		cfg.Workers, len(runners), cfg.RedisAddr, cfg.QueueKey, cfg.RedactedDSN())

	poolWorkers.Run(ctx)

	log.Println("worker stopped")
}

func newRunner(
	cfg config.Config,
	templates *template.Registry,
	store progress.Store,
	artifactRelay *relay.Relay,
	api remote.WorkerAPI,
	client *http.Client,
	budget remote.Budget,
) *orchestrator.Orchestrator {
	submitter := remote.NewSubmitter(api, client, cfg.SubmitAttempts, cfg.SubmitBackoff)
	poller := remote.NewPoller(api, client, cfg.PollInterval)
	return orchestrator.New(templates, store, submitter, poller, artifactRelay, budget, cfg.RetryFailed)
}
