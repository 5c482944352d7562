// Package redis backs cluster memory with a Redis instance shared by all
// workers of a distributed executor session.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stagehq/stagehand/pkg/clustermem"
)

const keyPrefix = "stagehand:cm"

// ClusterMemory implements clustermem.ClusterMemory on Redis. Entries are
// plain string keys under a namespace prefix; an index set per namespace
// makes List and Clear cheap without SCAN.
type ClusterMemory struct {
	client goredis.UniversalClient
}

func New(client goredis.UniversalClient) *ClusterMemory {
	return &ClusterMemory{client: client}
}

// NewFromURL connects using a redis:// URL.
func NewFromURL(url string) (*ClusterMemory, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return New(goredis.NewClient(opts)), nil
}

func entryKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, namespace, key)
}

func indexKey(namespace string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, namespace)
}

func wrapUnavailable(err error) error {
	if err == nil || errors.Is(err, goredis.Nil) {
		return err
	}

	return fmt.Errorf("%w: %v", clustermem.ErrUnavailable, err)
}

func (c *ClusterMemory) Put(ctx context.Context, namespace, key string, value []byte) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entryKey(namespace, key), value, 0)
	pipe.SAdd(ctx, indexKey(namespace), key)

	_, err := pipe.Exec(ctx)

	return wrapUnavailable(err)
}

func (c *ClusterMemory) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, entryKey(namespace, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, clustermem.ErrKeyNotFound
	}

	if err != nil {
		return nil, wrapUnavailable(err)
	}

	return value, nil
}

func (c *ClusterMemory) Delete(ctx context.Context, namespace, key string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, entryKey(namespace, key))
	pipe.SRem(ctx, indexKey(namespace), key)

	_, err := pipe.Exec(ctx)

	return wrapUnavailable(err)
}

func (c *ClusterMemory) List(ctx context.Context, namespace string) ([]string, error) {
	keys, err := c.client.SMembers(ctx, indexKey(namespace)).Result()
	if err != nil {
		return nil, wrapUnavailable(err)
	}

	return keys, nil
}

// clearScript deletes the namespace index and every entry it names in one
// atomic step. Reading the members and deleting them must not interleave
// with a concurrent Put: a snapshot-then-delete pair would leave the put's
// entry key alive after the index is gone, visible to Get but not List.
var clearScript = goredis.NewScript(`
local keys = redis.call('SMEMBERS', KEYS[1])
for _, key in ipairs(keys) do
	redis.call('DEL', ARGV[1] .. key)
end
return redis.call('DEL', KEYS[1])
`)

func (c *ClusterMemory) Clear(ctx context.Context, namespace string) error {
	err := clearScript.Run(ctx, c.client, []string{indexKey(namespace)}, entryKey(namespace, "")).Err()
	if errors.Is(err, goredis.Nil) {
		// An empty namespace has no index to delete.
		return nil
	}

	return wrapUnavailable(err)
}

func (c *ClusterMemory) Close() error {
	return c.client.Close()
}
