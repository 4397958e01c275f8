// Package alerting delivers rollback notifications to operators. The log
// sink is always safe; the Redis sink publishes JSON alerts on a pub/sub
// channel for external pagers to consume.
package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/palantir/stacktrace"

	"github.com/breakpoint-labs/havoc/pkg/log"
)

// Sink receives alerts raised by the orchestrator
type Sink interface {
	SendAlert(level string, message string, metadata map[string]interface{}) error
}

// LogSink writes alerts to the structured log; the default sink
type LogSink struct{}

// SendAlert logs the alert with its metadata
func (LogSink) SendAlert(level string, message string, metadata map[string]interface{}) error {
	fields := map[string]interface{}{"level": level}
	for k, v := range metadata {
		fields[k] = v
	}
	log.ErrorWithValues("[Alert]: "+message, fields)
	return nil
}

// RedisSink publishes alerts on a Redis pub/sub channel
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

// NewRedisSink connects to Redis and returns a sink publishing on channel
func NewRedisSink(addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, stacktrace.Propagate(err, "redis at %s is not reachable", addr)
	}
	return &RedisSink{client: client, channel: channel, timeout: 5 * time.Second}, nil
}

type alertPayload struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SendAlert publishes the alert as JSON
func (s *RedisSink) SendAlert(level string, message string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(alertPayload{
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
	if err != nil {
		return stacktrace.Propagate(err, "alert payload marshal failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return stacktrace.Propagate(err, "alert publish on channel '%s' failed", s.channel)
	}
	return nil
}

// Close releases the Redis connection
func (s *RedisSink) Close() error {
	return s.client.Close()
}
