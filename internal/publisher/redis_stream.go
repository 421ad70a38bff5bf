package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatsStream receives one entry per successful statistics run.
const StatsStream = "lheq.stats.generated"

// StatsGenerated is the payload published after a statistics run.
type StatsGenerated struct {
	RunID   string         `json:"run_id"`
	Passes  []PassSnapshot `json:"passes"`
	Elapsed time.Duration  `json:"elapsed_ns"`
}

// PassSnapshot describes the files written by one compiler pass.
type PassSnapshot struct {
	Suffix             string `json:"suffix"`
	IncludeTournaments bool   `json:"include_tournaments"`
	Teams              int    `json:"teams"`
	Players            int    `json:"players"`
}

// RedisPublisher publishes events to Redis streams
type RedisPublisher struct {
	client *redis.Client
	maxLen int64
	now    func() time.Time
}

// NewRedisPublisher creates a new Redis stream publisher from an existing client.
// maxLen caps the stream length approximately; zero leaves it unbounded.
func NewRedisPublisher(client *redis.Client, maxLen int64) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		maxLen: maxLen,
		now:    time.Now,
	}
}

// PublishStatsGenerated appends a stats event to the stream and returns the entry id.
func (rp *RedisPublisher) PublishStatsGenerated(ctx context.Context, event StatsGenerated) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}

	id, err := rp.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StatsStream,
		MaxLen: rp.maxLen,
		Approx: rp.maxLen > 0,
		Values: []interface{}{
			"run_id", event.RunID,
			"data", string(data),
			"timestamp", rp.now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", StatsStream, err)
	}
	return id, nil
}
