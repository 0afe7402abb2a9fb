package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisBus provides Redis Streams-based messaging for downstream consumers
type RedisBus struct {
	client *redis.Client
	logger *zap.SugaredLogger
	retry  time.Duration
	maxLen int64
}

// StreamMessage represents a message in a Redis Stream
type StreamMessage struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// IndicatorMessage represents an enriched indicator on the indicators stream
type IndicatorMessage struct {
	RunID      string `json:"run_id"`
	Indicator  string `json:"indicator"`
	Type       string `json:"type"`
	Reputation string `json:"reputation"`
	// Data is the full enriched indicator as JSON
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// RunMessage represents a run summary on the runs stream
type RunMessage struct {
	RunID      string `json:"run_id"`
	Threats    int    `json:"threats"`
	Indicators int    `json:"indicators"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// StreamHandler is a function that processes stream messages
type StreamHandler func(ctx context.Context, message StreamMessage) error

// DefaultMaxLen bounds each stream; older entries are trimmed approximately.
const DefaultMaxLen = 10000

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *zap.SugaredLogger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBus{
		client: client,
		logger: logging.OrNop(logger),
		retry:  5 * time.Second,
		maxLen: DefaultMaxLen,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// NewIndicatorMessage builds the stream message for an enriched indicator.
func NewIndicatorMessage(runID string, ind intel.EnrichedIndicator, ts time.Time) (IndicatorMessage, error) {
	data, err := json.Marshal(ind)
	if err != nil {
		return IndicatorMessage{}, fmt.Errorf("failed to marshal indicator %s: %w", ind.Value, err)
	}
	return IndicatorMessage{
		RunID:      runID,
		Indicator:  ind.Value,
		Type:       string(ind.Kind),
		Reputation: ind.Reputation,
		Data:       string(data),
		Timestamp:  ts.Unix(),
	}, nil
}

// PublishIndicator publishes an enriched indicator to the indicators stream
func (rb *RedisBus) PublishIndicator(ctx context.Context, msg IndicatorMessage) error {
	fields := map[string]interface{}{
		"run_id":     msg.RunID,
		"indicator":  msg.Indicator,
		"type":       msg.Type,
		"reputation": msg.Reputation,
		"data":       msg.Data,
		"timestamp":  msg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: IndicatorsStream,
		MaxLen: rb.maxLen,
		Approx: true,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish indicator: %w", err)
	}

	rb.logger.Debugw("Published indicator", "stream", IndicatorsStream, "indicator", msg.Indicator, "id", result.Val())
	return nil
}

// PublishRun publishes a run summary to the runs stream
func (rb *RedisBus) PublishRun(ctx context.Context, msg RunMessage) error {
	fields := map[string]interface{}{
		"run_id":      msg.RunID,
		"threats":     msg.Threats,
		"indicators":  msg.Indicators,
		"started_at":  msg.StartedAt,
		"finished_at": msg.FinishedAt,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: RunsStream,
		MaxLen: rb.maxLen,
		Approx: true,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}

	rb.logger.Infow("Published run", "stream", RunsStream, "run_id", msg.RunID)
	return nil
}

// SaveRun publishes every indicator of the run, then the run summary. It stops
// at the first failure.
func (rb *RedisBus) SaveRun(ctx context.Context, run *intel.Run) error {
	for _, ind := range run.Indicators {
		msg, err := NewIndicatorMessage(run.ID, ind, run.FinishedAt)
		if err != nil {
			return err
		}
		if err := rb.PublishIndicator(ctx, msg); err != nil {
			return err
		}
	}
	return rb.PublishRun(ctx, RunMessage{
		RunID:      run.ID,
		Threats:    len(run.Threats),
		Indicators: len(run.Indicators),
		StartedAt:  run.StartedAt.Unix(),
		FinishedAt: run.FinishedAt.Unix(),
	})
}

// CreateConsumerGroup creates a consumer group for a stream if it doesn't exist
func (rb *RedisBus) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	result := rb.client.XGroupCreateMkStream(ctx, stream, group, "0")
	if err := result.Err(); err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s for stream %s: %w", group, stream, err)
	}

	rb.logger.Debugw("Consumer group ready", "stream", stream, "group", group)
	return nil
}

// ReadStream reads messages from a stream using consumer groups. Messages whose
// handler fails stay pending.
func (rb *RedisBus) ReadStream(ctx context.Context, stream, group, consumer string, handler StreamHandler) error {
	if err := rb.CreateConsumerGroup(ctx, stream, group); err != nil {
		return err
	}

	rb.logger.Infow("Starting stream reader", "stream", stream, "group", group, "consumer", consumer)

	for {
		if err := ctx.Err(); err != nil {
			rb.logger.Infow("Stream reader stopping", "stream", stream)
			return err
		}

		result := rb.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    1 * time.Second,
		})
		if err := result.Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rb.logger.Warnw("Error reading from stream", "stream", stream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rb.retry):
			}
			continue
		}

		for _, xs := range result.Val() {
			for _, message := range xs.Messages {
				streamMsg := StreamMessage{
					ID:     message.ID,
					Fields: make(map[string]string, len(message.Values)),
				}
				for key, value := range message.Values {
					if strValue, ok := value.(string); ok {
						streamMsg.Fields[key] = strValue
					}
				}

				if err := handler(ctx, streamMsg); err != nil {
					rb.logger.Warnw("Error processing message", "id", message.ID, "error", err)
					continue
				}
				if err := rb.client.XAck(ctx, xs.Stream, group, message.ID).Err(); err != nil {
					rb.logger.Warnw("Error acknowledging message", "id", message.ID, "error", err)
				}
			}
		}
	}
}

// ReadIndicatorsStream reads from the indicators stream
func (rb *RedisBus) ReadIndicatorsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg IndicatorMessage) error) error {
	streamHandler := func(ctx context.Context, message StreamMessage) error {
		msg := IndicatorMessage{
			RunID:      message.Fields["run_id"],
			Indicator:  message.Fields["indicator"],
			Type:       message.Fields["type"],
			Reputation: message.Fields["reputation"],
			Data:       message.Fields["data"],
		}
		if ts, err := parseTimestamp(message.Fields["timestamp"]); err == nil {
			msg.Timestamp = ts
		}
		return handler(ctx, msg)
	}

	return rb.ReadStream(ctx, IndicatorsStream, group, consumer, streamHandler)
}

// parseTimestamp parses a timestamp string to int64
func parseTimestamp(timestamp string) (int64, error) {
	if timestamp == "" {
		return time.Now().Unix(), nil
	}

	// numeric epoch, seconds or milliseconds
	if n, err := strconv.ParseInt(timestamp, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return n / 1000, nil
		}
		return n, nil
	}

	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		return ts.Unix(), nil
	}

	return time.Now().Unix(), fmt.Errorf("unable to parse timestamp: %s", timestamp)
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// Clear deletes the indicators and runs streams along with their groups
func (rb *RedisBus) Clear(ctx context.Context) error {
	if err := rb.client.Del(ctx, IndicatorsStream, RunsStream).Err(); err != nil {
		return fmt.Errorf("failed to delete streams: %w", err)
	}
	return nil
}

// GetStats returns basic statistics about the Redis streams
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"type": "redis"}

	for _, stream := range []string{IndicatorsStream, RunsStream} {
		n, err := rb.client.XLen(ctx, stream).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get length of %s: %w", stream, err)
		}
		stats[stream+"_length"] = n
	}
	return stats, nil
}
