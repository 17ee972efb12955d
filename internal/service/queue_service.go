package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Queue interface {
	Enqueue(ctx context.Context, runID string, priority int) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, runID string) error
	RequeueStale(ctx context.Context, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// redisRunQueue is a reliable queue with priorities over Redis lists.
// Lanes: high/normal/low.
// Claim: BRPOPLPUSH lane.queue -> lane.processing
// Ack:   LREM from the right processing list (kept in processingMapKey hash)
//
// Прогон может висеть в claim долго (внешний воркер медленный), поэтому
// reaper в cmd/worker возвращает зависшие id из processing обратно.
type redisRunQueue struct {
	rdb              *redis.Client
	processingMapKey string
	lanes            [3]Lane // индекс = приоритет 0..2
}

func NewRedisRunQueue(rdb *redis.Client, processingMapKey string, low, normal, high Lane) Queue {
	return &redisRunQueue{
		rdb:              rdb,
		processingMapKey: processingMapKey,
		lanes:            [3]Lane{low, normal, high},
	}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 2 {
		return 2
	}
	return p
}

// byPriorityDesc lists lanes for claiming: high first.
func (q *redisRunQueue) byPriorityDesc() []Lane {
	return []Lane{q.lanes[2], q.lanes[1], q.lanes[0]}
}

func (q *redisRunQueue) Enqueue(ctx context.Context, runID string, priority int) error {
	ln := q.lanes[clampPriority(priority)]
	return q.rdb.LPush(ctx, ln.QueueKey, runID).Err()
}

// ClaimBlocking tries high->normal->low with small blocking slots, so it
// is "mostly blocking" but still respects priority.
func (q *redisRunQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	// timeout <= 0: ждём вечно (режим демона)
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := 1 * time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range q.byPriorityDesc() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				// запоминаем, в каком processing-списке лежит id (для Ack)
				if hErr := q.rdb.HSet(ctx, q.processingMapKey, id, ln.ProcessingKey).Err(); hErr != nil {
					return "", hErr
				}
				return id, nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisRunQueue) Ack(ctx context.Context, runID string) error {
	processingKey, err := q.rdb.HGet(ctx, q.processingMapKey, runID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// mapping потерян — вычищаем из всех processing-списков
			for _, ln := range q.lanes {
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, runID).Err()
			}
			return nil
		}
		return err
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, runID).Err(); err != nil {
		return err
	}
	_ = q.rdb.HDel(ctx, q.processingMapKey, runID).Err()
	return nil
}

// RequeueStale moves items from processing back to queue per lane.
// Simple reaper, at-least-once delivery.
func (q *redisRunQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	var moved int64

	for _, ln := range q.lanes {
		for i := int64(0); i < maxPerLane; i++ {
			id, err := q.rdb.RPopLPush(ctx, ln.ProcessingKey, ln.QueueKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return moved, err
			}
			if id != "" {
				moved++
				_ = q.rdb.HDel(ctx, q.processingMapKey, id).Err()
			}
		}
	}

	return moved, nil
}
