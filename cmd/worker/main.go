package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/queue"
	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/leaselock"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/logger/console"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init pgx client
	pool, err := pgx.NewPool(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	graph := pgx.NewGraphDBStorageWithConnection(pool)
	locks := leaselock.New(pool)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.CommunityEmbeddingQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One unacked message at a time keeps per-tenant writes ordered.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.CommunityEmbeddingQueue,
		fmt.Sprintf("%s_consumer", queue.CommunityEmbeddingQueue),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.CommunityEmbeddingQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.CommunityEmbeddingQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.CommunityEmbeddingQueue)
					stop()
					return
				}

				start := time.Now()
				err := queue.ProcessCommunityEmbeddings(ctx, graph, locks, msg.Body)
				if err != nil {
					logger.Error("Error processing message",
						"queue", queue.CommunityEmbeddingQueue,
						"retries", queue.Retries(msg),
						"err", err,
					)
					queue.HandleProcessingError(ctx, ch, msg, queue.CommunityEmbeddingQueue, err)
					continue
				}

				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully",
					"queue", queue.CommunityEmbeddingQueue,
					"duration", time.Since(start),
				)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
