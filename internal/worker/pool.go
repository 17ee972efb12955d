package worker

import (
	"context"
	"log"
	"time"

	"content-pipeline-service/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
}

func NewPool(queue service.Queue, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
	}
}

func (p *Pool) Run(ctx context.Context) {
	log.Printf("worker pool started: workers=%d", p.workers)

	runCh := make(chan string)

	// N воркеров; каждый гоняет оркестратор последовательно по юнитам
	for i := 0; i < p.workers; i++ {
		go func(n int) {
			for runID := range runCh {
				err := p.processor.Process(ctx, runID)
				if err != nil {
					log.Printf("[worker-%d] process run %s error: %v", n, runID, err)
				}

				// В любом случае ACK: run уже переведён в done/error в БД
				// (или упал раньше — тогда reaper вернёт id обратно,
				// а progress-store пропустит готовые юниты).
				if ackErr := p.queue.Ack(ctx, runID); ackErr != nil {
					log.Printf("[worker-%d] ack run %s error: %v", n, runID, ackErr)
				}
			}
		}(i + 1)
	}

	// Listener: atomically claim from queue -> processing
	for {
		select {
		case <-ctx.Done():
			close(runCh)
			log.Println("worker pool stopped")
			return
		default:
			runID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
			if err != nil {
				// timeout/redis.Nil/ctx cancel — не фатально
				continue
			}
			select {
			case runCh <- runID:
			case <-ctx.Done():
				close(runCh)
				return
			}
		}
	}
}
