package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/pulsar/internal/action"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisDirectoryKey is the hash mapping action identifiers to peers.
const DefaultRedisDirectoryKey = "pulsar:actions"

// Binds every action in ARGV[2..] to ARGV[1] unless one of them is already
// bound to another peer, in which case nothing is written and the first
// conflicting action and its peer are returned.
var announceScript = redis.NewScript(`
for i = 2, #ARGV do
    local current = redis.call('HGET', KEYS[1], ARGV[i])
    if current and current ~= ARGV[1] then
        return {ARGV[i], current}
    end
end
for i = 2, #ARGV do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[1])
end
return {}
`)

// Removes the bindings in ARGV[2..] that still point at ARGV[1].
var withdrawScript = redis.NewScript(`
local removed = 0
for i = 2, #ARGV do
    if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[1] then
        removed = removed + redis.call('HDEL', KEYS[1], ARGV[i])
    end
end
return removed
`)

// RedisDirectory keeps action bindings in a Redis hash shared by all peers.
type RedisDirectory struct {
	client *redis.Client
	key    string
}

var _ Directory = (*RedisDirectory)(nil)

// NewRedisDirectory creates a directory on client. An empty key uses
// DefaultRedisDirectoryKey.
func NewRedisDirectory(client *redis.Client, key string) *RedisDirectory {
	if key == "" {
		key = DefaultRedisDirectoryKey
	}
	return &RedisDirectory{client: client, key: key}
}

// Ping checks Redis connectivity
func (d *RedisDirectory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Resolve implements Resolver.
func (d *RedisDirectory) Resolve(ctx context.Context, id action.Identifier) (string, error) {
	peer, err := d.client.HGet(ctx, d.key, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", notFound(id)
	}
	if err != nil {
		return "", fmt.Errorf("resolve action [%s]: %w", id, err)
	}
	return peer, nil
}

// Announce implements Announcer atomically for the whole batch.
func (d *RedisDirectory) Announce(ctx context.Context, peer string, ids ...action.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	result, err := announceScript.Run(ctx, d.client, []string{d.key}, scriptArgs(peer, ids)...).Slice()
	if err != nil {
		return fmt.Errorf("announce actions for %s: %w", peer, err)
	}
	if len(result) == 2 {
		id, _ := result[0].(string)
		existing, _ := result[1].(string)
		return &ConflictError{Action: action.Identifier(id), Existing: existing, Proposed: peer}
	}
	return nil
}

// Withdraw implements Announcer.
func (d *RedisDirectory) Withdraw(ctx context.Context, peer string, ids ...action.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	if err := withdrawScript.Run(ctx, d.client, []string{d.key}, scriptArgs(peer, ids)...).Err(); err != nil {
		return fmt.Errorf("withdraw actions for %s: %w", peer, err)
	}
	return nil
}

// Bindings implements Directory.
func (d *RedisDirectory) Bindings(ctx context.Context) (map[action.Identifier]string, error) {
	all, err := d.client.HGetAll(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list action bindings: %w", err)
	}
	out := make(map[action.Identifier]string, len(all))
	for id, peer := range all {
		out[action.Identifier(id)] = peer
	}
	return out, nil
}

func scriptArgs(peer string, ids []action.Identifier) []any {
	args := make([]any, 0, len(ids)+1)
	args = append(args, peer)
	for _, id := range ids {
		args = append(args, string(id))
	}
	return args
}
