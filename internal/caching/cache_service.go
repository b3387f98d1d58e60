package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"labstock/internal/logger"
	"labstock/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "labstock:"

// ReleaseFunc gives back a lock taken with AcquireLock.
type ReleaseFunc func(ctx context.Context) error

type CacheService interface {
	// Item list caching, keyed by collection, list version and category
	// filter. Read the version before querying the store and fill under that
	// version; InvalidateItems moves the collection to a new version, so a
	// list read before a write is never served after it.
	ItemsVersion(ctx context.Context, collection string) (int64, error)
	GetItems(ctx context.Context, collection string, version int64, filter string) ([]models.Item, error)
	SetItems(ctx context.Context, collection string, version int64, filter string, items []models.Item, ttl time.Duration) error
	InvalidateItems(ctx context.Context, collection string) error

	// Cross-instance locking. acquired is false when another holder has it.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)

	Ping(ctx context.Context) error
}

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Parse Redis URL to extract host:port if protocol is included
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	log := logger.Named("cache")
	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Warnw("Redis ping failed on initialization", "address", parsedAddr, "error", pingErr)
	} else {
		log.Debugw("Redis connection established", "address", parsedAddr)
	}

	return &redisCacheService{client: client}
}

func itemsKey(collection string, version int64, filter string) string {
	if filter == "" {
		filter = models.ItemFilterAll
	}
	return fmt.Sprintf("%sitems:%s:v%d:%s", keyPrefix, collection, version, filter)
}

func itemsVersionKey(collection string) string {
	return fmt.Sprintf("%sitems-version:%s", keyPrefix, collection)
}

func lockKey(name string) string {
	return fmt.Sprintf("%slock:%s", keyPrefix, name)
}

// ItemsVersion returns 0 for a collection that was never invalidated.
func (r *redisCacheService) ItemsVersion(ctx context.Context, collection string) (int64, error) {
	version, err := r.client.Get(ctx, itemsVersionKey(collection)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// GetItems returns nil on a cache miss.
func (r *redisCacheService) GetItems(ctx context.Context, collection string, version int64, filter string) ([]models.Item, error) {
	data, err := r.client.Get(ctx, itemsKey(collection, version, filter)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, err
	}

	items := []models.Item{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *redisCacheService) SetItems(ctx context.Context, collection string, version int64, filter string, items []models.Item, ttl time.Duration) error {
	if items == nil {
		items = []models.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, itemsKey(collection, version, filter), data, ttl).Err()
}

// InvalidateItems bumps the collection's list version. Lists cached under
// older versions are no longer read and expire on their own.
func (r *redisCacheService) InvalidateItems(ctx context.Context, collection string) error {
	return r.client.Incr(ctx, itemsVersionKey(collection)).Err()
}

func (r *redisCacheService) AcquireLock(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	key := lockKey(name)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, r.client, []string{key}, token).Err()
	}
	return release, true, nil
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
