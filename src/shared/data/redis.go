package data

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

const streamNotifications = "pinmap.notifications"

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// PublishNotification mirrors a dispatched notification group onto the redis
// stream for external consumers. Best effort; callers log and move on.
func PublishNotification(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamNotifications,
		Values: payload,
	}).Result()
	return err
}
