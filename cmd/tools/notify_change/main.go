package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-rates/internal/app"
	"github.com/noah-isme/toko-rates/internal/events"
)

// notify_change enqueues an entity change for the worker, which broadcasts it to every API
// replica. Use it after editing rate tables by hand.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	topic := flag.String("topic", events.TopicReloadRequested, "change topic")
	entityID := flag.String("entity", "", "changed entity id")
	action := flag.String("action", "", "created, updated or deleted")
	queue := flag.String("queue", "rates", "asynq queue the worker consumes")
	flag.Parse()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		log.Fatal("REDIS_URL is not set")
	}
	opt, err := app.TaskRedisOpt(redisURL)
	if err != nil {
		log.Fatalf("Failed to parse REDIS_URL: %v", err)
	}
	client := asynq.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	change := events.Change{Topic: *topic, EntityID: *entityID, Action: *action, OccurredAt: time.Now().UTC(), Origin: "notify_change"}
	info, err := events.Enqueuer{Client: client, Queue: *queue}.Enqueue(ctx, change)
	if err != nil {
		log.Fatalf("Failed to enqueue change: %v", err)
	}
	log.Printf("Enqueued %s task %s on queue %s", change.Topic, info.ID, info.Queue)
}
