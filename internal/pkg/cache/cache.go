package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/inkwell-ai/inkwell/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Seen reports whether a processed-webhook marker exists for key. Used as
// a fast-path dedup in front of the database's unique-key check for
// replayed webhook deliveries.
func Seen(c context.Context, key string) (bool, error) {
	n, err := GetClient().Exists(c, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen records a processed-webhook marker for key with a TTL. Called
// only after the delivery was handled successfully so a failed attempt
// never suppresses its own redelivery.
func MarkSeen(c context.Context, key string, ttl time.Duration) error {
	return GetClient().Set(c, key, 1, ttl).Err()
}
