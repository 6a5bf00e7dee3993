package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/zlnvch/holoboard/api"
	"github.com/zlnvch/holoboard/cache"
	"github.com/zlnvch/holoboard/cache/memory"
	"github.com/zlnvch/holoboard/cache/redis"
	"github.com/zlnvch/holoboard/config"
	"github.com/zlnvch/holoboard/discovery"
	"github.com/zlnvch/holoboard/mq"
	"github.com/zlnvch/holoboard/mq/sqsmq"
	"github.com/zlnvch/holoboard/room"
	"github.com/zlnvch/holoboard/store"
	"github.com/zlnvch/holoboard/store/dynamo"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logrus.SetLevel(cfg.LogLevel)
	if cfg.DevMode {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	var bus cache.PubSub
	if cfg.RedisEndpoint != "" {
		redisBus, err := redis.NewRedisBus(ctx, cfg.DevMode, cfg.RedisEndpoint)
		if err != nil {
			logrus.Fatalf("Failed to create redis bus: %v", err)
		}
		bus = redisBus
	} else {
		logrus.Info("REDIS_ENDPOINT not set, broadcasting in process")
		bus = memory.NewBus()
	}
	defer bus.Close()

	var boardStore store.BoardStore
	var roomClosedQueue mq.MessageQueue
	if cfg.StatsEnabled {
		dynamoStore, err := dynamo.NewDynamoBoardStore(ctx, cfg.DevMode, cfg.DynamoDBEndpoint, cfg.DynamoDBTable)
		if err != nil {
			logrus.Fatalf("Failed to create dynamodb store: %v", err)
		}
		boardStore = dynamoStore

		sqsQueue, err := sqsmq.NewSQSMessageQueue(ctx, cfg.DevMode, cfg.SQSEndpoint, cfg.RoomClosedQueue)
		if err != nil {
			logrus.Fatalf("Failed to create SQS MQ: %v", err)
		}
		roomClosedQueue = sqsQueue
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	holoboardAPI := api.NewHoloboardAPI(
		room.NewRegistry(cfg.RoomCapacity, room.DefaultShapeLimit),
		bus,
		boardStore,
		roomClosedQueue,
		cfg.TicketSecret,
		cfg.AllowedOrigin,
		shutdownCtx,
	)

	if cfg.MDNSAdvertise {
		advertiser, err := discovery.Advertise(cfg.HostPort)
		if err != nil {
			logrus.WithError(err).Warn("mDNS advertisement disabled")
		} else {
			defer advertiser.Shutdown()
		}
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HostPort),
		Handler: holoboardAPI.Router(),
	}

	go func() {
		logrus.WithField("port", cfg.HostPort).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	logrus.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("graceful shutdown failed")
	}
}
