package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"practice-quiz-service/internal/app"
	"practice-quiz-service/internal/config"
	"practice-quiz-service/internal/domain"
	"practice-quiz-service/internal/infra/memory"
	pgloader "practice-quiz-service/internal/infra/postgres"
	redisinfra "practice-quiz-service/internal/infra/redis"
	"practice-quiz-service/internal/infra/sheets"
	transport "practice-quiz-service/internal/transport/http"
	"practice-quiz-service/pkg/logger"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Server.Mode)
	defer log.Sync()

	submitter, err := sheets.New(cfg)
	if err != nil {
		// Wrong or missing sink credentials could corrupt the result sheet;
		// refuse to start rather than default.
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, cacheTTL)
	} else {
		bank = memory.NewQuestionBank(loader, cacheTTL)
	}

	var store app.RecordStore
	if redisClient != nil {
		store = redisinfra.NewRecordStore(redisClient)
	} else {
		store = memory.NewRecordStore()
	}

	queue := app.NewRetryQueue(store, submitter, log)
	service := app.NewSessionService(store, bank, submitter, queue, app.SessionConfig{
		Enabled:   cfg.Quiz.Enabled,
		TimeLimit: cfg.TimeLimit(),
	}, log)
	wsHandler := transport.NewWSHandler(service, log)

	retryCtx, stopRetry := context.WithCancel(ctx)
	defer stopRetry()
	go queue.Run(retryCtx, config.TTLDuration(cfg.Retry.Interval, app.DefaultRetryInterval))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting practice quiz service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides minimal question content for running without
// Postgres.
func sampleQuestionSets() map[int][]domain.Question {
	return map[int][]domain.Question{
		1: {
			{ID: "q1", Prompt: "Write a function that reverses a string."},
			{ID: "q2", Prompt: "Explain the difference between a slice and an array."},
			{ID: "q3", Prompt: "Implement FizzBuzz for numbers 1 to 100."},
		},
	}
}
