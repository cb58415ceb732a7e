package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/shohag/pushbridge/internal/config"
	"github.com/shohag/pushbridge/internal/models"
)

// RedisStore reads recipient token sets from Redis. Each recipient's tokens
// live in a set under "<prefix><recipient_id>".
type RedisStore struct {
	pool   *redis.Pool
	prefix string
}

func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", cfg.Addr, redis.DialConnectTimeout(cfg.DialTimeout))
		},
	}
	return &RedisStore{pool: pool, prefix: cfg.KeyPrefix}
}

func (s *RedisStore) FetchTokens(ctx context.Context, recipientID string) ([]models.Token, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis dial: %w", err)
	}
	defer conn.Close()

	members, err := redis.Strings(conn.Do("SMEMBERS", s.prefix+recipientID))
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNoRecipient
	}

	tokens := make([]models.Token, 0, len(members))
	for _, m := range members {
		if m == "" {
			continue
		}
		tokens = append(tokens, models.Token(m))
	}
	if len(tokens) == 0 {
		return nil, ErrNoRecipient
	}
	return tokens, nil
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}
