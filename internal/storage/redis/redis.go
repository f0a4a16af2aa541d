package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kburn/internal/config"
	"github.com/goodtune/kburn/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash holding the ledger state.
const DefaultKey = "kburn:state"

// Store implements the storage.StateStore interface using Redis
type Store struct {
	client *redis.Client
	key    string
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	return &Store{client: client, key: key}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Load reads the state hash
func (s *Store) Load(ctx context.Context) (*storage.State, error) {
	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}

	return parseState(data)
}

// Save writes the state hash. A write that would lower the byte count without
// a newer reset timestamp is rejected.
func (s *Store) Save(ctx context.Context, state storage.State) error {
	script := redis.NewScript(saveStateScript)

	args := []interface{}{
		state.BytesTransferred,
		formatFloat(state.LastResetAt),
		time.Now().UTC().Format(time.RFC3339Nano),
	}

	written, err := script.Run(ctx, s.client, []string{s.key}, args...).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return fmt.Errorf("stale state write rejected for key %s", s.key)
	}
	return nil
}
