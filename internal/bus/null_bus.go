package bus

import (
	"context"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"go.uber.org/zap"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *zap.SugaredLogger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *zap.SugaredLogger) *NullBus {
	return &NullBus{logger: logging.OrNop(logger)}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishIndicator logs the indicator but doesn't actually publish it
func (nb *NullBus) PublishIndicator(ctx context.Context, msg IndicatorMessage) error {
	nb.logger.Debugw("Would publish indicator (Redis disabled)", "run_id", msg.RunID, "indicator", msg.Indicator)
	return nil
}

// PublishRun logs the run but doesn't actually publish it
func (nb *NullBus) PublishRun(ctx context.Context, msg RunMessage) error {
	nb.logger.Debugw("Would publish run (Redis disabled)", "run_id", msg.RunID)
	return nil
}

// SaveRun is a no-op for null bus
func (nb *NullBus) SaveRun(ctx context.Context, run *intel.Run) error {
	nb.logger.Debugw("Would publish run indicators (Redis disabled)", "run_id", run.ID, "indicators", len(run.Indicators))
	return nil
}

// ReadIndicatorsStream is a no-op for null bus (blocks until ctx is done)
func (nb *NullBus) ReadIndicatorsStream(ctx context.Context, group, consumer string, handler func(ctx context.Context, msg IndicatorMessage) error) error {
	nb.logger.Infow("Would read indicators stream (Redis disabled)", "group", group, "consumer", consumer)
	<-ctx.Done()
	return ctx.Err()
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}

// Clear is a no-op for null bus
func (nb *NullBus) Clear(ctx context.Context) error {
	return nil
}
