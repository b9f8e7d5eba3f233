package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	heartbeatPrefix = "worker:heartbeat:"
	// HeartbeatTTL is how long a consumer counts as alive after its last heartbeat
	HeartbeatTTL = 60 * time.Second
)

// WorkerHeartbeat represents the heartbeat data for a consumer
type WorkerHeartbeat struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"` // "idle", "processing"
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func heartbeatKey(consumerID string) string {
	return heartbeatPrefix + consumerID
}

// SetHeartbeat stores or refreshes this consumer's heartbeat. A consumer whose
// heartbeat expires is considered dead and its reservations are recovered.
func (q *Queue) SetHeartbeat(ctx context.Context, status string) error {
	heartbeat := WorkerHeartbeat{
		WorkerID:      q.consumerID,
		Status:        status,
		LastHeartbeat: q.now(),
	}

	data, err := json.Marshal(heartbeat)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	if err := q.client.Set(ctx, heartbeatKey(q.consumerID), data, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

// ClearHeartbeat removes this consumer's heartbeat on clean shutdown
func (q *Queue) ClearHeartbeat(ctx context.Context) error {
	if err := q.client.Del(ctx, heartbeatKey(q.consumerID)).Err(); err != nil {
		return fmt.Errorf("clearing heartbeat: %w", err)
	}
	return nil
}

// ActiveWorkers retrieves all consumers with a live heartbeat
func (q *Queue) ActiveWorkers(ctx context.Context) ([]WorkerHeartbeat, error) {
	var workers []WorkerHeartbeat

	var cursor uint64
	for {
		keys, nextCursor, err := q.client.Scan(ctx, cursor, heartbeatPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning worker keys: %w", err)
		}

		for _, key := range keys {
			data, err := q.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting worker heartbeat: %w", err)
			}

			var heartbeat WorkerHeartbeat
			if err := json.Unmarshal([]byte(data), &heartbeat); err != nil {
				continue
			}
			workers = append(workers, heartbeat)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return workers, nil
}
