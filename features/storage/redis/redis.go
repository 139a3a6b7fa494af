// Package redis provides the Redis-backed Store. Keys are stored verbatim
// under a configurable namespace prefix; listing uses SCAN so large key
// spaces never block the server.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultNamespace = "rla2a:"

// Options configures the Redis store.
type Options struct {
	// Client is the Redis connection. Required.
	Client *goredis.Client
	// Namespace prefixes every key (defaults to "rla2a:").
	Namespace string
	// OperationTimeout bounds individual operations. Zero means no timeout.
	OperationTimeout time.Duration
}

// Store is the Redis-backed storage.Store implementation.
type Store struct {
	client    *goredis.Client
	namespace string
	timeout   time.Duration
}

// New creates a Redis store. The Client field in opts is required.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Store{
		client:    opts.Client,
		namespace: namespace,
		timeout:   opts.OperationTimeout,
	}, nil
}

// Get returns the stored document for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set stores or replaces the document for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Set(ctx, s.namespace+key, value, 0).Err()
}

// Delete removes key, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Del(ctx, s.namespace+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.client.Exists(ctx, s.namespace+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListKeys returns every key with the given prefix via SCAN.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pattern := s.namespace + prefix + "*"
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
