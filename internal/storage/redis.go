package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis instance, typically one running
// locally on the kiosk device.  All keys live under a namespace prefix so
// several engines can share one instance.  Values are stored without TTL;
// expiry of queue entries is an engine policy, not a storage policy.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis wraps an existing client.  The namespace is prepended to every
// key ("rollcall:" by default when empty).
func NewRedis(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = "rollcall:"
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) full(key string) string { return r.namespace + key }

// Get returns the stored value and whether the key exists.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.full(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Put stores value under key without expiry.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.full(key), value, 0).Err()
}

// Delete removes key; a missing key is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.full(key)).Err()
}

// List scans every key under prefix and fetches the values.  SCAN is used
// instead of KEYS so a large store does not block the server.
func (r *Redis) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := r.client.Scan(ctx, 0, r.full(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		v, err := r.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // deleted between scan and get
		}
		if err != nil {
			return nil, err
		}
		out[full[len(r.namespace):]] = v
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
