package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-relay/queue"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of the queue system
 * Immediate queue: list, LPUSH to enqueue, BLMOVE into a per-consumer
 * processing list to reserve, LREM to acknowledge
 * Retry set: sorted set scored by due time in epoch milliseconds
 */

const (
	immediateKey     = "webhook_queue"
	retryKey         = "retry_queue"
	processingPrefix = "webhook_queue:processing:" // processing list naming: webhook_queue:processing:{consumer_id}
)

// drainScript reads and removes the due window in one step
var drainScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #due > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
end
return due
`)

type Queue struct {
	client     *redis.Client
	consumerID string
	now        func() time.Time
}

// NewClient connects to Redis and verifies the connection
func NewClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	return client, nil
}

// NewQueue creates a queue bound to consumerID. Producers may pass any id.
func NewQueue(client *redis.Client, consumerID string) *Queue {
	return &Queue{
		client:     client,
		consumerID: consumerID,
		now:        time.Now,
	}
}

// ConsumerID identifies this queue's processing list and heartbeat
func (q *Queue) ConsumerID() string {
	return q.consumerID
}

func processingKey(consumerID string) string {
	return processingPrefix + consumerID
}

// Push enqueues msg on the immediate queue
func (q *Queue) Push(ctx context.Context, msg queue.Message) error {
	data, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, immediateKey, data).Err(); err != nil {
		return fmt.Errorf("pushing message %s: %w", msg.Env().EventID, err)
	}
	return nil
}

// Reserve moves the oldest message into this consumer's processing list
func (q *Queue) Reserve(ctx context.Context, timeout time.Duration) (*queue.Reservation, error) {
	raw, err := q.client.BLMove(ctx, immediateKey, processingKey(q.consumerID), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserving message: %w", err)
	}

	msg, err := queue.Decode([]byte(raw))
	if err != nil {
		// Poison message: drop it so it cannot block the consumer forever
		q.client.LRem(ctx, processingKey(q.consumerID), 1, raw)
		return nil, fmt.Errorf("decoding reserved message: %w", err)
	}
	return &queue.Reservation{Message: msg, Raw: raw}, nil
}

// Ack removes a reserved message from the processing list
func (q *Queue) Ack(ctx context.Context, r *queue.Reservation) error {
	if err := q.client.LRem(ctx, processingKey(q.consumerID), 1, r.Raw).Err(); err != nil {
		return fmt.Errorf("acknowledging message %s: %w", r.Message.Env().EventID, err)
	}
	return nil
}

// ScheduleRetry adds msg to the retry set, due after delay
func (q *Queue) ScheduleRetry(ctx context.Context, msg queue.Retry, delay time.Duration) error {
	data, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	due := q.now().Add(delay).UnixMilli()
	err = q.client.ZAdd(ctx, retryKey, redis.Z{
		Score:  float64(due),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("scheduling retry %s attempt %d: %w", msg.EventID, msg.AttemptNumber, err)
	}
	return nil
}

// DrainDue atomically removes and returns every retry due at or before now
func (q *Queue) DrainDue(ctx context.Context, now time.Time) ([]queue.Message, error) {
	raws, err := drainScript.Run(ctx, q.client, []string{retryKey}, strconv.FormatInt(now.UnixMilli(), 10)).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("draining retry set: %w", err)
	}

	messages := make([]queue.Message, 0, len(raws))
	var decodeErrs []error
	for _, raw := range raws {
		msg, err := queue.Decode([]byte(raw))
		if err != nil {
			decodeErrs = append(decodeErrs, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, errors.Join(decodeErrs...)
}

// RequeueInFlight moves everything in consumerID's processing list back to the immediate queue
func (q *Queue) RequeueInFlight(ctx context.Context, consumerID string) (int, error) {
	moved := 0
	for {
		// LEFT holds the newest reservation, so the oldest ends up consumed first
		err := q.client.LMove(ctx, processingKey(consumerID), immediateKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeueing in-flight messages of %s: %w", consumerID, err)
		}
		moved++
	}
}

// RecoverOrphaned requeues the processing lists of consumers without a live heartbeat
func (q *Queue) RecoverOrphaned(ctx context.Context) (int, error) {
	total := 0
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, processingPrefix+"*", 100).Result()
		if err != nil {
			return total, fmt.Errorf("scanning processing lists: %w", err)
		}

		for _, key := range keys {
			consumerID := key[len(processingPrefix):]
			if consumerID == q.consumerID {
				continue
			}
			alive, err := q.client.Exists(ctx, heartbeatKey(consumerID)).Result()
			if err != nil {
				return total, fmt.Errorf("checking heartbeat of %s: %w", consumerID, err)
			}
			if alive > 0 {
				continue
			}
			moved, err := q.RequeueInFlight(ctx, consumerID)
			total += moved
			if err != nil {
				return total, err
			}
		}

		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Lengths reports the size of the immediate queue, the retry set and all processing lists
func (q *Queue) Lengths(ctx context.Context) (map[string]int64, error) {
	immediate, err := q.client.LLen(ctx, immediateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("measuring immediate queue: %w", err)
	}
	retry, err := q.client.ZCard(ctx, retryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("measuring retry set: %w", err)
	}

	var processing int64
	var cursor uint64
	for {
		keys, next, err := q.client.Scan(ctx, cursor, processingPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning processing lists: %w", err)
		}
		for _, key := range keys {
			n, err := q.client.LLen(ctx, key).Result()
			if err != nil {
				continue
			}
			processing += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return map[string]int64{
		"immediate":  immediate,
		"retry":      retry,
		"processing": processing,
	}, nil
}
