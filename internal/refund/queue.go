package refund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"carrental-backend/internal/domain"
)

var (
	ErrQueueFull   = errors.New("refund queue is full")
	ErrQueueClosed = errors.New("refund queue is closed")
)

// Queue carries refund tasks from the settlement code to the workers.
// Pop blocks until a task arrives or ctx is done.
type Queue interface {
	Push(ctx context.Context, task domain.RefundTask) error
	Pop(ctx context.Context) (domain.RefundTask, error)
}

// MemoryQueue is a buffered channel. Tasks are lost on restart; the
// stalled-refund job picks them up again from the settlements table.
type MemoryQueue struct {
	tasks chan domain.RefundTask
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 100
	}
	return &MemoryQueue{tasks: make(chan domain.RefundTask, size)}
}

func (q *MemoryQueue) Push(ctx context.Context, task domain.RefundTask) error {
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (domain.RefundTask, error) {
	select {
	case <-ctx.Done():
		return domain.RefundTask{}, ctx.Err()
	case task := <-q.tasks:
		return task, nil
	}
}

func (q *MemoryQueue) Len() int { return len(q.tasks) }

// RedisQueue keeps tasks in a Redis list so they survive a restart and can
// be shared by several server instances.
type RedisQueue struct {
	client *redis.Client
	key    string
	// poll bounds each BRPOP so Pop notices a cancelled context.
	poll time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, poll: 2 * time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, task domain.RefundTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode refund task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("push refund task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (domain.RefundTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RefundTask{}, err
		}
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return domain.RefundTask{}, ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return domain.RefundTask{}, ErrQueueClosed
			}
			return domain.RefundTask{}, fmt.Errorf("pop refund task: %w", err)
		}
		// BRPOP replies with [key, value].
		var task domain.RefundTask
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			return domain.RefundTask{}, fmt.Errorf("decode refund task: %w", err)
		}
		return task, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
