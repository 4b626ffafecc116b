package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-rates/internal/app"
	"github.com/noah-isme/toko-rates/internal/config"
	"github.com/noah-isme/toko-rates/internal/events"
	"github.com/noah-isme/toko-rates/internal/obs"
)

func main() {
	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.ServiceName).With().Str("component", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the change worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := app.NewRedis(ctx, cfg.RedisURL, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	bus := &events.Bus{
		Publisher: events.RedisPublisher{Client: redisClient, Channel: cfg.InvalidationTopic},
		Notifiers: []events.Notifier{changeLogger(logger)},
		Origin:    "worker",
	}

	redisOpt, err := app.TaskRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("task redis options")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: envInt("WORKER_CONCURRENCY", 4),
		Queues:      map[string]int{envOrDefault("WORKER_QUEUE", "rates"): 1},
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(events.TaskEntityChanged, events.TaskHandler{Bus: bus})

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Msg("worker started")
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func changeLogger(logger zerolog.Logger) events.Notifier {
	return events.NotifierFunc(func(_ context.Context, change events.Change) error {
		logger.Info().
			Str("change_id", change.ID).
			Str("topic", change.Topic).
			Str("entity_id", change.EntityID).
			Str("action", change.Action).
			Msg("broadcasting rate change")
		return nil
	})
}

// asynqLogger routes asynq's internal logs through zerolog.
type asynqLogger struct {
	zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.Logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.Logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.Logger.Fatal().Msg(fmt.Sprint(args...)) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(envOrDefault(key, ""))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
