package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netyora-chat/config"
	"netyora-chat/internal/events"
	"netyora-chat/internal/handler"
	"netyora-chat/internal/jobs"
	"netyora-chat/internal/metrics"
	"netyora-chat/internal/middleware"
	"netyora-chat/internal/notify"
	"netyora-chat/internal/presence"
	"netyora-chat/internal/redis"
	"netyora-chat/internal/repository"
	"netyora-chat/internal/server"
	"netyora-chat/internal/services"
	"netyora-chat/internal/storage"
	"netyora-chat/internal/video"
	"netyora-chat/internal/websocket"
	"netyora-chat/pkg/database"
	netyora_errors "netyora-chat/pkg/errors"
	"netyora-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.LogMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Logger.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := repository.InitSchema(db); err != nil {
		return err
	}

	m := metrics.New(l.Named("metrics"))

	hub := websocket.NewHub(m, websocket.NewLogger(l.Logger))
	registry := presence.NewRegistry(nil)

	var bus events.Bus = events.NewLocalBus(hub)
	var limiter middleware.Limiter
	var cache services.InboxCache = services.NewMemoryInboxCache(cfg.InboxCacheTTL)
	var guard services.DownloadGuard = services.NewMemoryDownloadGuard()
	var presenceReader services.PresenceReader = registry
	var broadcasters []presence.Broadcaster

	if cfg.PresenceBusURL != "" {
		if err := redis.Initialize(cfg.PresenceBusURL); err != nil {
			return err
		}
		client := redis.GetClient()
		defer client.Close()

		pubsub := redis.NewPubSub(client)
		bus = events.NewRedisBus(pubsub)
		go func() {
			if err := websocket.NewRedisBridge(pubsub, hub, l.Named("bridge")).Run(ctx); err != nil {
				l.Logger.Error("Event bridge stopped", zap.Error(err))
			}
		}()

		mirror := redis.NewPresenceMirror(client, uuid.NewString(), registry, l.Named("presence"))
		broadcasters = append(broadcasters, mirror)
		presenceReader = mirror
		go mirror.Run(ctx)

		limiter = redis.NewRateLimiter(client, redis.DefaultRateLimitConfig())
		cache = redis.NewInboxCache(client, cfg.InboxCacheTTL, l.Named("inbox_cache"))
		guard = redis.NewDownloadGuard(client)
		l.Infof("Cross-node bus enabled")
	}
	broadcasters = append(broadcasters, websocket.NewPresenceBroadcaster(bus, l.Named("presence")))
	registry.SetBroadcaster(presence.BroadcasterFunc(func(state presence.State) {
		for _, b := range broadcasters {
			b.PresenceChanged(state)
		}
	}))

	sink, closeSink, err := notificationSink(cfg, l.Named("notify"))
	if err != nil {
		return err
	}
	defer closeSink()

	blobs, err := blobStore(ctx, cfg)
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(db)
	chats := services.NewChatService(repository.NewChatRepository(db), userRepo, bus, l.Named("chat"))
	chats.SetPresence(presenceReader)
	chats.SetInboxCache(cache)
	chats.SetMetrics(m)

	attachments := services.NewAttachmentService(chats, blobs, guard, sink, l.Named("attachments"))
	attachments.SetMetrics(m)
	attachments.SetMaxBytes(cfg.UploadMaxBytes)

	videos := services.NewVideoService(chats, userRepo, repository.NewSwapRepository(db),
		video.NewLiveKitIssuer(cfg.VideoAppID, cfg.VideoServerSecret), sink, cfg.FrontendURL, l.Named("video"))
	videos.SetMetrics(m)

	identity := services.NewIdentityService(cfg.IdentitySigningKey)
	gateway := websocket.NewGateway(hub, identity, chats, registry, bus, cfg.FrontendURL, websocket.NewLogger(l.Logger))
	if limiter != nil {
		gateway.SetConnectGate(func(ctx context.Context, userID string) error {
			res, err := limiter.Allow(ctx, redis.ActionConnect, userID)
			if err != nil {
				// fail open
				return nil
			}
			if !res.Allowed {
				return netyora_errors.ErrRateLimited
			}
			return nil
		})
	}

	sweep := jobs.NewSweepJob(attachments, cfg.SweepSchedule, cfg.SweepWorkers, m, l.Logger)
	if err := sweep.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Chat:       handler.NewChatHandler(chats),
		Message:    handler.NewMessageHandler(chats, videos),
		Attachment: handler.NewAttachmentHandler(attachments, cfg.UploadMaxBytes),
		Video:      handler.NewVideoHandler(videos),
		Gateway:    gateway,
	}, server.RouteDeps{
		Identity: identity,
		Limiter:  limiter,
		Metrics:  m,
		Health: func(context.Context) error {
			return database.HealthCheck()
		},
	})
	return srv.Start(ctx)
}

// notificationSink prefers the AMQP publisher, then the HTTP bulk client.
func notificationSink(cfg *config.Config, log *zap.Logger) (notify.Sink, func(), error) {
	switch {
	case cfg.NotificationAMQPURL != "":
		s, err := notify.NewAMQPSink(cfg.NotificationAMQPURL, "notifications", log)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case cfg.NotificationServiceURL != "":
		return notify.NewHTTPSink(cfg.NotificationServiceURL, cfg.NotificationAPIKey, 5*time.Second, log), func() {}, nil
	default:
		log.Warn("No notification service configured, notifications are discarded")
		return notify.NopSink{}, func() {}, nil
	}
}

func blobStore(ctx context.Context, cfg *config.Config) (*storage.Client, error) {
	creds, ok := config.ParseBlobStoreCreds(cfg.BlobStoreCreds)
	if !ok {
		return nil, errors.New("BLOB_STORE_CREDS is missing or malformed")
	}
	return storage.NewClient(ctx, storage.S3Config{
		Region:     creds.Region,
		Bucket:     creds.Bucket,
		AccessKey:  creds.AccessKey,
		SecretKey:  creds.SecretKey,
		Endpoint:   creds.Endpoint,
		PublicBase: creds.PublicBase,
		PresignTTL: 15 * time.Minute,
	})
}
