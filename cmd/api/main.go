// cmd/api/main.go
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
	"github.com/redis/go-redis/v9"

	"content-pipeline-service/internal/config"
	"content-pipeline-service/internal/repository/postgresql"
	"content-pipeline-service/internal/service"
	"content-pipeline-service/internal/template"
	httptransport "content-pipeline-service/internal/transport/http"
)

// @title Content Pipeline Service API
// @version 1.0
// @description Submits and tracks batch runs of remote content workers (face swap, enhance, GPU render).
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env опционален: в контейнере всё приходит из окружения
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[api] dotenv: %v", err)
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

	// шаблоны задач
	templates, err := template.LoadFile(cfg.TemplatesPath)
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	// DI
	repo := postgresql.NewRunRepository(pool)
	queue := service.NewRedisRunQueue(
		rdb,
		cfg.ProcessingMapKey,
		service.Lane{QueueKey: cfg.QueueKey + ":low", ProcessingKey: cfg.ProcessingKey + ":low"},
		service.Lane{QueueKey: cfg.QueueKey + ":normal", ProcessingKey: cfg.ProcessingKey + ":normal"},
		service.Lane{QueueKey: cfg.QueueKey + ":high", ProcessingKey: cfg.ProcessingKey + ":high"},
	)

	runSvc := service.NewRunService(repo, queue, templates)
	handler := httptransport.NewHandler(runSvc, templates)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: httptransport.Routes(handler),
	}

	go func() {
		log.Printf("[api] listening addr=%s templates=%d postgres_dsn=%s",
			cfg.Addr, len(templates.IDs()), cfg.RedactedDSN())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[api] shutdown: %v", err)
	}

	log.Println("api stopped")
}
