/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backend. Keys are laid out SDL-style as
// "{namespace},key" so one namespace hashes to one slot in cluster mode.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a store backed by a Redis server
func NewRedisStore(addr string, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisStore{client: client, logger: logger}
}

func redisKey(ns, key string) string {
	return fmt.Sprintf("{%s},%s", ns, key)
}

// wrapRedisErr maps go-redis failures onto the package sentinel errors
func wrapRedisErr(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr), errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%s: %w: %s", op, ErrDisconnected, err.Error())
	case strings.Contains(err.Error(), "WRONGTYPE"), strings.Contains(err.Error(), "NOPERM"):
		return fmt.Errorf("%s: %w: %s", op, ErrRejected, err.Error())
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrTransient, err.Error())
	}
}

// Get retrieves the value for a key
func (r *RedisStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, redisKey(ns, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, wrapRedisErr("get", err)
	}
	return val, nil
}

// Set writes a value under a key
func (r *RedisStore) Set(ctx context.Context, ns, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKey(ns, key), value, 0).Err(); err != nil {
		return wrapRedisErr("set", err)
	}
	return nil
}

// Delete removes a key
func (r *RedisStore) Delete(ctx context.Context, ns, key string) error {
	if err := r.client.Del(ctx, redisKey(ns, key)).Err(); err != nil {
		return wrapRedisErr("delete", err)
	}
	return nil
}

// FindAndGet returns every key starting with prefix, with its value
func (r *RedisStore) FindAndGet(ctx context.Context, ns, prefix string) (map[string][]byte, error) {
	nsPrefix := redisKey(ns, "")
	pattern := redisKey(ns, escapeGlob(prefix)) + "*"

	out := make(map[string][]byte)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		val, err := r.client.Get(ctx, full).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Key expired between SCAN and GET
				continue
			}
			return nil, wrapRedisErr("find_and_get", err)
		}
		out[strings.TrimPrefix(full, nsPrefix)] = val
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedisErr("find_and_get", err)
	}
	return out, nil
}

// escapeGlob escapes glob metacharacters so prefixes match literally
func escapeGlob(s string) string {
	replacer := strings.NewReplacer(
		`*`, `\*`,
		`?`, `\?`,
		`[`, `\[`,
		`]`, `\]`,
	)
	return replacer.Replace(s)
}

// Healthy reports whether the backend is reachable
func (r *RedisStore) Healthy(ctx context.Context) bool {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("Redis health probe failed", slog.Any("error", err))
		return false
	}
	return true
}

// Close closes the connection pool
func (r *RedisStore) Close() error {
	return r.client.Close()
}
