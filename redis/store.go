// Package redis provides a Redis-backed journal store for flowline.
package redis

import (
	"github.com/flowlinehq/flowline/pkg/api"
	"github.com/redis/go-redis/v9"

	rcatalog "github.com/flowlinehq/flowline/redis/internal/catalog"
)

// NewJournalStore returns a JournalStore that keeps flow registrations and
// run records in Redis. Wire it in via Config.Journal:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	cfg := flowline.Config{Journal: flowlineredis.NewJournalStore(client, "")}
//
// prefix namespaces every key and is optional (default "flowline:").
func NewJournalStore(client *redis.Client, prefix string) api.JournalStore {
	return rcatalog.NewRedisStore(client, prefix)
}
