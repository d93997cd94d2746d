package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gebre-tech/backend/internal/auth"
	"github.com/gebre-tech/backend/internal/bus"
	"github.com/gebre-tech/backend/internal/chat"
	"github.com/gebre-tech/backend/internal/config"
	"github.com/gebre-tech/backend/internal/dedup"
	"github.com/gebre-tech/backend/internal/logger"
	"github.com/gebre-tech/backend/internal/media"
	"github.com/gebre-tech/backend/internal/notify"
	"github.com/gebre-tech/backend/internal/presence"
	"github.com/gebre-tech/backend/internal/server"
	"github.com/gebre-tech/backend/internal/store"
	"github.com/gebre-tech/backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CHAT_CONFIG"))
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Development())
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Infof("starting chatd (env=%s)", cfg.App.Env)

	// Mongo
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	if err := mc.Ping(ctx, nil); err != nil {
		log.Fatalf("mongo ping: %v", err)
	}
	cancel()
	db := mc.Database(cfg.Mongo.Database)
	msgs := store.NewMongoMessageStore(db.Collection("messages"))
	convs := store.NewMongoConversationStore(db.Collection("conversations"))

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	cancelPing()

	// Fan-out: local hub mirrored across instances over redis pub/sub.
	hub := bus.NewHub()
	bridge := bus.NewRedisBridge(rdb, cfg.Redis.Prefix, hub, log)
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	go func() {
		if err := bridge.Run(bridgeCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("redis bridge stopped", "err", err)
		}
	}()

	ledger := dedup.NewRedisLedger(rdb, cfg.Redis.Prefix, cfg.DedupTTL)
	// Twice the read deadline so an idle-but-alive connection always pings
	// before its presence record expires.
	tracker := presence.NewRedisTracker(rdb, cfg.Redis.Prefix, 2*cfg.ReadDeadline)

	var notifier notify.Notifier
	var producer *notify.Producer
	if cfg.Kafka.Enabled {
		producer = notify.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		notifier = producer
		log.Infow("kafka notifications enabled", "topic", cfg.Kafka.Topic)
	}

	var uploader media.Uploader
	if cfg.S3.Enabled {
		up, err := media.NewS3Uploader(context.Background(), cfg.S3.Region, cfg.S3.Bucket, cfg.S3.PublicRead)
		if err != nil {
			log.Fatalf("s3 uploader: %v", err)
		}
		uploader = up
		log.Infow("attachments enabled", "bucket", cfg.S3.Bucket)
	}

	var validator *auth.Validator
	if cfg.JWT.Algorithm == "RS256" {
		validator, err = auth.NewRS256Validator(cfg.JWT.PublicKeyPath)
	} else {
		validator, err = auth.NewHS256Validator(cfg.JWT.Secret)
	}
	if err != nil {
		log.Fatalf("jwt validator: %v", err)
	}

	engine := chat.NewEngine(msgs, convs, hub, ledger, notifier, log)
	resolver := chat.NewResolver(convs)

	srv := server.New(server.Deps{
		Validator: validator,
		Resolver:  resolver,
		Engine:    engine,
		Presence:  tracker,
		Log:       log,
		WS: &ws.Handler{
			Validator: validator,
			Resolver:  resolver,
			Engine:    engine,
			Bus:       hub,
			Uploader:  uploader,
			Presence:  tracker,
			Log:       log,
			Config: ws.Config{
				PingInterval:   cfg.PingInterval,
				ReadDeadline:   cfg.ReadDeadline,
				WriteDeadline:  cfg.WriteDeadline,
				MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
				SendBuffer:     cfg.WS.SendBuffer,
			},
			ConnectTimeout: cfg.ConnectTimeout,
		},
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		log.Infof("listening on %s", addr)
		if err := srv.Listen(addr); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShut()
	_ = srv.Shutdown(shutCtx)
	stopBridge()
	if producer != nil {
		_ = producer.Close()
	}
	_ = mc.Disconnect(shutCtx)
	_ = rdb.Close()
	log.Info("shutdown complete")
}
