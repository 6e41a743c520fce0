package apicache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the time-to-live for cached responses
	DefaultTTL = 6 * time.Hour
	// DefaultSize is the number of responses kept in process
	DefaultSize = 512
	// KeyPrefix is the prefix for all cache keys
	KeyPrefix = "ytcache:"
)

// credentialParams never take part in a cache key
var credentialParams = map[string]bool{
	"key":          true,
	"access_token": true,
}

// Cache stores upstream GET response bodies in a process-local LRU backed by
// an optional Redis instance shared between workers.
type Cache struct {
	local  *expirable.LRU[string, []byte]
	client *redis.Client
	ttl    time.Duration
}

// Options configure a Cache. An empty RedisAddr keeps the cache process-local.
type Options struct {
	RedisAddr string
	Size      int
	TTL       time.Duration
}

// New creates a new response cache
func New(opts Options) *Cache {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	c := &Cache{
		local: expirable.NewLRU[string, []byte](opts.Size, nil, opts.TTL),
		ttl:   opts.TTL,
	}
	if opts.RedisAddr != "" {
		c.client = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	}
	return c
}

// normalizeURL lowercases scheme and host, strips credentials and the
// fragment, and sorts the query so equivalent requests share a key.
func normalizeURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", errors.New("invalid URL: missing scheme or host")
	}

	parsedURL.Scheme = strings.ToLower(parsedURL.Scheme)
	parsedURL.Host = strings.ToLower(parsedURL.Host)
	parsedURL.Fragment = ""

	filtered := url.Values{}
	for key, values := range parsedURL.Query() {
		if credentialParams[strings.ToLower(key)] {
			continue
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		filtered[key] = sorted
	}
	// Encode sorts by key
	parsedURL.RawQuery = filtered.Encode()

	if len(parsedURL.Path) > 1 && strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")
	}

	return parsedURL.String(), nil
}

// Key returns the cache key for a request URL
func Key(rawURL string) (string, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256([]byte(normalized))
	return KeyPrefix + hex.EncodeToString(hash[:]), nil
}

// Get returns the cached body for a URL. A miss returns nil and no error.
func (c *Cache) Get(ctx context.Context, rawURL string) ([]byte, error) {
	key, err := Key(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to hash URL: %w", err)
	}

	if body, ok := c.local.Get(key); ok {
		return body, nil
	}
	if c.client == nil {
		return nil, nil
	}

	body, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	c.local.Add(key, body)
	return body, nil
}

// Set stores a response body for a URL
func (c *Cache) Set(ctx context.Context, rawURL string, body []byte) error {
	key, err := Key(rawURL)
	if err != nil {
		return fmt.Errorf("failed to hash URL: %w", err)
	}

	c.local.Add(key, body)
	if c.client == nil {
		return nil
	}
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete removes a URL from both cache levels
func (c *Cache) Delete(ctx context.Context, rawURL string) error {
	key, err := Key(rawURL)
	if err != nil {
		return fmt.Errorf("failed to hash URL: %w", err)
	}

	c.local.Remove(key)
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Len reports the number of process-local entries
func (c *Cache) Len() int {
	return c.local.Len()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping checks if the Redis connection is alive
func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
