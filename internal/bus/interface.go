package bus

import (
	"context"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"go.uber.org/zap"
)

const (
	// IndicatorsStream carries one message per enriched indicator.
	IndicatorsStream = "indicators"
	// RunsStream carries one summary message per pipeline run.
	RunsStream = "runs"
)

// Bus defines the interface for message bus implementations
type Bus interface {
	// PublishIndicator publishes an enriched indicator to the indicators stream
	PublishIndicator(ctx context.Context, msg IndicatorMessage) error

	// PublishRun publishes a run summary to the runs stream
	PublishRun(ctx context.Context, msg RunMessage) error

	// SaveRun publishes every indicator of a run followed by its summary
	SaveRun(ctx context.Context, run *intel.Run) error

	// ReadIndicatorsStream consumes the indicators stream as part of a consumer group
	ReadIndicatorsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg IndicatorMessage) error) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Clear deletes the streams owned by the bus
	Clear(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL
// If redisURL is empty or unreachable, returns a NullBus
func NewBus(redisURL string, logger *zap.SugaredLogger) Bus {
	logger = logging.OrNop(logger)

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err == nil {
		return redisBus
	}

	logger.Warnw("Redis unavailable, publishing disabled", "error", err)
	return NewNullBus(logger)
}
