package cli

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"practice-quiz-service/internal/app"
	"practice-quiz-service/internal/config"
	redisinfra "practice-quiz-service/internal/infra/redis"
	"practice-quiz-service/internal/infra/sheets"
	"practice-quiz-service/pkg/logger"
)

// NewRetryCmd runs one manual retry pass over the pending uploads. The same
// pass the server runs on an interval, exposed for operators.
func NewRetryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Run one retry pass over pending result uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetryPass(cmd.Context(), *configPath)
		},
	}
}

func runRetryPass(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Server.Mode)
	defer log.Sync()

	submitter, err := sheets.New(cfg)
	if err != nil {
		return err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := redisinfra.NewRecordStore(client)

	queue := app.NewRetryQueue(store, submitter, log)
	if err := queue.RunPass(ctx); err != nil {
		return err
	}

	exhausted, err := queue.Exhausted(ctx)
	if err != nil {
		return err
	}
	if len(exhausted) > 0 {
		log.Warn("uploads at retry ceiling, kept for inspection", zap.Int("count", len(exhausted)))
	}
	return nil
}
