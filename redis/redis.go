package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/madfeed/feed-service/feed"
	"github.com/redis/go-redis/v9"
)

// Redis provides caching of assembled posts in Redis.
type Redis struct {
	cli      *redis.Client
	ttl      time.Duration
	maxPosts int64
	now      func() time.Time
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string, ttl time.Duration, maxPosts int) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(cli, ttl, maxPosts), nil
}

// New returns a cache using cli. Entries expire after ttl; once more than
// maxPosts posts are cached the least recently stored ones are evicted.
func New(cli *redis.Client, ttl time.Duration, maxPosts int) *Redis {
	if maxPosts <= 0 {
		maxPosts = defaultMaxPosts
	}
	return &Redis{
		cli:      cli,
		ttl:      ttl,
		maxPosts: int64(maxPosts),
		now:      time.Now,
	}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

const (
	postPrefix      = "posts"
	defaultMaxPosts = 1000

	// versionTTL bounds how long a post's version outlives its last
	// invalidation. It only has to exceed the time taken to assemble a post.
	versionTTL = 24 * time.Hour
)

// errStale aborts a SetPost whose version is out of date.
var errStale = errors.New("stale post version")

func postKey(id string) string {
	return fmt.Sprintf("%s:%s", postPrefix, id)
}

func versionKey(id string) string {
	return fmt.Sprintf("%s:%s:v", postPrefix, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersion(ctx context.Context, c getter, key string) (int64, error) {
	v, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// GetPost returns the cached post with the given id. On a miss it returns
// the post's current version instead.
func (r *Redis) GetPost(ctx context.Context, id string) (feed.Post, int64, bool, error) {
	b, err := r.cli.Get(ctx, postKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		v, err := readVersion(ctx, r.cli, versionKey(id))
		if err != nil {
			return feed.Post{}, 0, false, err
		}
		return feed.Post{}, v, false, nil
	}
	if err != nil {
		return feed.Post{}, 0, false, fmt.Errorf("get: %w", err)
	}
	var p feed.Post
	if err := json.Unmarshal(b, &p); err != nil {
		return feed.Post{}, 0, false, fmt.Errorf("decode cached post: %w", err)
	}
	return p, 0, true, nil
}

// SetPost stores p under posts:POST_ID and records the key in a sorted set
// ordered by store time. Nothing is stored if the post was invalidated since
// version was read.
func (r *Redis) SetPost(ctx context.Context, p feed.Post, version int64) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	key, vkey := postKey(p.ID), versionKey(p.ID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readVersion(ctx, tx, vkey)
		if err != nil {
			return err
		}
		if cur != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			pipe.ZAdd(ctx, postPrefix, redis.Z{
				Score:  float64(r.now().UnixNano()),
				Member: key,
			})
			return nil
		})
		return err
	}, vkey)
	switch {
	case errors.Is(err, errStale), errors.Is(err, redis.TxFailedErr):
		return nil
	case err != nil:
		return fmt.Errorf("redis set post: %w", err)
	}

	if err := r.evictOldest(ctx); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// InvalidatePost drops the cached post with the given id and advances its
// version.
func (r *Redis) InvalidatePost(ctx context.Context, id string) error {
	key, vkey := postKey(id), versionKey(id)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, postPrefix, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate post: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context) error {
	vals, err := r.cli.ZRange(ctx, postPrefix, 0, -r.maxPosts-1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, postPrefix, key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
