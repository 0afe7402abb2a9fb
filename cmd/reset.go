package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegistrace/aegistrace/internal/bus"
	"github.com/aegistrace/aegistrace/internal/config"
	"github.com/aegistrace/aegistrace/internal/enrich"
	"github.com/aegistrace/aegistrace/internal/store"
	"github.com/spf13/cobra"
)

var (
	confirmReset bool
	resetRedis   bool
	resetDB      bool
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored runs and/or Redis data",
	Long: `Reset deletes stored threats, indicators and runs from the SQLite database,
and the AegisTrace streams and cache entries from Redis.

By default both are reset. Use --redis-only or --db-only to pick one.
Other keys in the Redis database are left alone.

WARNING: This operation is irreversible and will permanently delete all data.

Examples:
  # Reset both Redis and database (requires confirmation)
  aegistrace reset

  # Reset with automatic confirmation
  aegistrace reset --yes

  # Reset only the database
  aegistrace reset --db-only`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&confirmReset, "yes", "y", false, "Automatically confirm reset operation")
	resetCmd.Flags().BoolVar(&resetRedis, "redis-only", false, "Reset only Redis data")
	resetCmd.Flags().BoolVar(&resetDB, "db-only", false, "Reset only database")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !resetRedis && !resetDB {
		resetRedis = true
		resetDB = true
	}
	if resetRedis && cfg.Redis.URL == "" {
		if !resetDB {
			return fmt.Errorf("no Redis URL configured (--redis or redis.url)")
		}
		resetRedis = false
	}

	var targets []string
	if resetRedis {
		targets = append(targets, "Redis streams and cache")
	}
	if resetDB {
		targets = append(targets, "stored runs in "+cfg.Database.Path)
	}
	fmt.Printf("This will permanently delete: %s\n", strings.Join(targets, " and "))

	if !confirmReset {
		fmt.Print("Are you sure you want to continue? (y/N): ")
		var response string
		fmt.Scanln(&response)
		if r := strings.ToLower(response); r != "y" && r != "yes" {
			fmt.Println("Reset operation cancelled.")
			return nil
		}
	}

	if resetRedis {
		if err := resetRedisData(ctx, cfg); err != nil {
			if !resetDB {
				return fmt.Errorf("failed to reset Redis data: %w", err)
			}
			fmt.Printf("Warning: Failed to reset Redis data: %v\n", err)
		} else {
			fmt.Println("✓ Redis data cleared successfully")
		}
	}

	if resetDB {
		if err := resetDatabase(ctx, cfg); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
		fmt.Println("✓ Database cleared successfully")
	}

	fmt.Println("Reset operation completed successfully!")
	return nil
}

func resetRedisData(ctx context.Context, cfg *config.Config) error {
	rb, err := bus.NewRedisBus(cfg.Redis.URL, nil)
	if err != nil {
		return err
	}
	defer rb.Close()
	if err := rb.Clear(ctx); err != nil {
		return err
	}

	cache, err := enrich.NewRedisCache(cfg.Redis.URL, 0, nil)
	if err != nil {
		return err
	}
	defer cache.Close()
	return cache.Clear(ctx)
}

func resetDatabase(ctx context.Context, cfg *config.Config) error {
	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Reset(ctx)
}
