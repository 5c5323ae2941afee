package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/qupid/internal/ai"
	"github.com/suPer8Hu/qupid/internal/chat"
	"github.com/suPer8Hu/qupid/internal/config"
	"github.com/suPer8Hu/qupid/internal/db"
	"github.com/suPer8Hu/qupid/internal/store/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN, chat.Models()...)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}

	repo := chat.NewRepo(gdb)
	// Provider registry (route by session.Provider + session.Model)
	reg := ai.NewConfiguredRegistry(cfg)
	svc := chat.NewService(repo, reg, cfg.AIProvider, cfg.ChatContextWindowSize)

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Error("rabbit connect failed", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		log.Error("consume failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				m, err := rabbitmq.DecodeReplyJob(d.Body)
				if err != nil {
					wlog.Warn("bad message", "error", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, repo, m.JobID, wlog); err != nil {
					wlog.Error("job failed", "job_id", m.JobID, "cost", time.Since(start).String(), "error", err)
					// dead-lettered to the dlq
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					wlog.Warn("ack failed", "job_id", m.JobID, "error", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				os.Exit(1)
			}
			jobs <- d
		}
	}
}
