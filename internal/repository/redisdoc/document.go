// Package redisdoc implements the document repository as a Redis hash.
package redisdoc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "linkauth:doc:"

// Document maps one named document onto a single Redis hash.
type Document struct {
	client *redis.Client
	key    string
}

// New constructs a Redis-backed document named doc.
func New(client *redis.Client, doc string) *Document {
	return &Document{client: client, key: keyPrefix + doc}
}

// Get reads one field.
func (d *Document) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := d.client.HGet(ctx, d.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return v, true, nil
}

// Set writes one field.
func (d *Document) Set(ctx context.Context, key, value string) error {
	if err := d.client.HSet(ctx, d.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

// CreateIfAbsent writes one field with HSETNX.
func (d *Document) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := d.client.HSetNX(ctx, d.key, key, value).Result()
	if err != nil {
		return false, fmt.Errorf("redis: create %q: %w", key, err)
	}
	return ok, nil
}

// Delete removes one field.
func (d *Document) Delete(ctx context.Context, key string) error {
	if err := d.client.HDel(ctx, d.key, key).Err(); err != nil {
		return fmt.Errorf("redis: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists fields with the given prefix.
func (d *Document) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := d.client.HKeys(ctx, d.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: keys: %w", err)
	}
	out := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Save is a no-op; durability follows the server's persistence settings.
func (d *Document) Save(context.Context) error { return nil }

// Close closes the client.
func (d *Document) Close() error { return d.client.Close() }
