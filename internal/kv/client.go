// Package kv encapsula o serviço chave-valor usado para credenciais e
// para as filas de webhook. Os consumidores dependem apenas da interface
// Store, nunca do cliente Redis diretamente.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felipe/zegate/internal/config"
	"github.com/felipe/zegate/internal/logger"
)

const (
	connectRetryStep   = 200 * time.Millisecond
	maxConnectDelay    = 5 * time.Second
	maxConnectAttempts = 30
	scanPageSize       = 1000
)

// ErrNotFound indica chave ou lista vazia
var ErrNotFound = errors.New("kv: key not found")

// Store é a superfície usada pelo restante do sistema
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	SetBatch(ctx context.Context, entries map[string]string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	PushHead(ctx context.Context, list string, values ...string) error
	MoveTailToHead(ctx context.Context, source, destination string) (string, error)
	Remove(ctx context.Context, list, value string) error
	PopTail(ctx context.Context, list string) (string, error)
	Len(ctx context.Context, list string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Client implementa Store sobre um Redis
type Client struct {
	rdb    *redis.Client
	logger *logger.ComponentLogger
}

// Connect abre a conexão e espera o serviço responder, com backoff
// linear limitado entre tentativas
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := &Client{
		rdb:    redis.NewClient(opts),
		logger: logger.ForComponent("kv"),
	}

	if err := client.waitReady(ctx); err != nil {
		client.rdb.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) waitReady(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("Connected to Redis")
			return nil
		}
		lastErr = err

		delay := time.Duration(attempt) * connectRetryStep
		if delay > maxConnectDelay {
			delay = maxConnectDelay
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Redis not ready, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("redis unavailable after %d attempts: %w", maxConnectAttempts, lastErr)
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// SetBatch grava todas as entradas em um único pipeline
func (c *Client) SetBatch(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range entries {
			pipe.Set(ctx, key, value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv set batch: %w", err)
	}
	return nil
}

// ScanKeys enumera chaves por padrão usando cursor, nunca KEYS
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := c.rdb.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("kv scan %s: %w", pattern, err)
		}
		keys = append(keys, page...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (c *Client) PushHead(ctx context.Context, list string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := c.rdb.LPush(ctx, list, args...).Err(); err != nil {
		return fmt.Errorf("kv push %s: %w", list, err)
	}
	return nil
}

// MoveTailToHead move atomicamente o item mais antigo de source para
// destination, preservando a semântica at-least-once entre quedas
func (c *Client) MoveTailToHead(ctx context.Context, source, destination string) (string, error) {
	value, err := c.rdb.LMove(ctx, source, destination, "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv move %s -> %s: %w", source, destination, err)
	}
	return value, nil
}

// Remove apaga a primeira ocorrência do valor na lista
func (c *Client) Remove(ctx context.Context, list, value string) error {
	if err := c.rdb.LRem(ctx, list, 1, value).Err(); err != nil {
		return fmt.Errorf("kv remove from %s: %w", list, err)
	}
	return nil
}

func (c *Client) PopTail(ctx context.Context, list string) (string, error) {
	value, err := c.rdb.RPop(ctx, list).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv pop %s: %w", list, err)
	}
	return value, nil
}

func (c *Client) Len(ctx context.Context, list string) (int64, error) {
	length, err := c.rdb.LLen(ctx, list).Result()
	if err != nil {
		return 0, fmt.Errorf("kv len %s: %w", list, err)
	}
	return length, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
