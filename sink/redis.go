package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"siemfusion/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const alertKeyPrefix = "siemfusion:alert:"

// RedisSink stores alerts in Redis keyed by alert id and maintains a
// recency index for dashboards. Publishing the same id twice upserts the
// same key, which makes at-least-once delivery from the orchestrator safe.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisSink creates a Redis-backed sink. ttl bounds how long alerts
// stay queryable; zero keeps them until evicted by Redis policy.
func NewRedisSink(addr, password string, db int, ttl time.Duration, logger *zap.SugaredLogger) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSink{client: client, ttl: ttl, logger: logger}
}

// Ping tests the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, alert *core.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", alert.ID, err)
	}

	key := alertKeyPrefix + alert.ID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, alertKeyPrefix+"by_time", redis.Z{
		Score:  float64(alert.UpdatedAt.UnixMilli()),
		Member: alert.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store alert %s: %w", alert.ID, err)
	}
	s.logger.Debugw("Published alert", "alert_id", alert.ID, "severity", alert.Severity)
	return nil
}

// Get fetches a stored alert by id.
func (s *RedisSink) Get(ctx context.Context, id string) (*core.Alert, error) {
	data, err := s.client.Get(ctx, alertKeyPrefix+id).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var alert core.Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, fmt.Errorf("failed to decode alert %s: %w", id, err)
	}
	return &alert, nil
}

// Count returns the number of alerts in the recency index.
func (s *RedisSink) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, alertKeyPrefix+"by_time").Result()
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
