package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aegistrace/aegistrace/internal/bus"
	"github.com/spf13/cobra"
)

var (
	watchGroup    string
	watchConsumer string
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow indicators published to Redis Streams",
	Long: `Watch joins a consumer group on the indicators stream and prints each
enriched indicator as it is published by "aegistrace run --publish".

Examples:
  aegistrace watch --redis redis://localhost:6379
  aegistrace watch --group soc --consumer analyst-1`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	host, _ := os.Hostname()
	watchCmd.Flags().StringVar(&watchGroup, "group", "aegistrace-watch", "Consumer group name")
	watchCmd.Flags().StringVar(&watchConsumer, "consumer", host, "Consumer name within the group")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("no Redis URL configured (--redis or redis.url)")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rb, err := bus.NewRedisBus(cfg.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer rb.Close()

	err = rb.ReadIndicatorsStream(ctx, watchGroup, watchConsumer, func(_ context.Context, msg bus.IndicatorMessage) error {
		fmt.Printf("[%s] %-8s %-64s %s\n", msg.RunID, msg.Type, msg.Indicator, msg.Reputation)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
