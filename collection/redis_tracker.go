package collection

import (
	"context"
	"fmt"
	"os"
	"strconv"

	Logger "github.com/audiencehub/audiencehub/utils/log"
	"github.com/go-redis/redis/v8"
)

const (
	// Redis only has string type, there is no boolean, so we use "1" to
	// represent true
	redisTrue  = "1"
	redisFalse = "0"

	statusKeyPrefix = "audience_status__"
)

var ctx = context.Background()

// RedisTracker mirrors collection status into Redis so readers outside this
// process observe the same per-audience state. Same overwrite semantics as
// MemoryTracker: every Set rewrites all fields of the hash.
type RedisTracker struct {
	inner *redis.Client
}

func NewRedisTracker() (*RedisTracker, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	_, err := redisClient.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return &RedisTracker{inner: redisClient}, nil
}

func statusKey(audienceID string) string {
	return statusKeyPrefix + audienceID
}

func (t *RedisTracker) Get(audienceID string) (Status, bool) {
	fields, err := t.inner.HGetAll(ctx, statusKey(audienceID)).Result()
	if err != nil {
		Logger.Log.Errorf("redis tracker: failed to read status for %s: %v", audienceID, err)
		return Status{}, false
	}
	if len(fields) == 0 {
		return Status{}, false
	}
	progress, _ := strconv.Atoi(fields["progress"])
	return Status{
		IsCollecting: fields["is_collecting"] == redisTrue,
		Progress:     progress,
		Outcome:      CycleOutcome(fields["outcome"]),
	}, true
}

func (t *RedisTracker) Set(audienceID string, status Status) {
	collecting := redisFalse
	if status.IsCollecting {
		collecting = redisTrue
	}
	err := t.inner.HSet(ctx, statusKey(audienceID),
		"is_collecting", collecting,
		"progress", strconv.Itoa(status.Progress),
		"outcome", string(status.Outcome),
	).Err()
	if err != nil {
		Logger.Log.Errorf("redis tracker: failed to write status for %s: %v", audienceID, err)
	}
}

func (t *RedisTracker) Delete(audienceID string) {
	if err := t.inner.Del(ctx, statusKey(audienceID)).Err(); err != nil {
		Logger.Log.Errorf("redis tracker: failed to delete status for %s: %v", audienceID, err)
	}
}
