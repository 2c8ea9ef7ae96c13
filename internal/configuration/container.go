package configuration

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/sngor/bayon-realtime/internal/auth"
	"github.com/sngor/bayon-realtime/internal/db"
	"github.com/sngor/bayon-realtime/internal/handler"
	"github.com/sngor/bayon-realtime/internal/hub"
	"github.com/sngor/bayon-realtime/internal/model"
	"github.com/sngor/bayon-realtime/internal/reactor"
	"github.com/sngor/bayon-realtime/internal/repo"
	"github.com/sngor/bayon-realtime/internal/scheduler"
	"github.com/sngor/bayon-realtime/pkg/email"
	"github.com/sngor/bayon-realtime/pkg/telegram"
)

type Container struct {
	NotificationHandler handler.NotificationHandler
	JobsHandler         handler.JobsHandler
	MonitorHandler      handler.MonitorHandler
	MessageHandler      handler.MessageHandler
	StatusHandler       handler.StatusHandler
	Hub                 *hub.Hub
	Reactor             *reactor.Reactor
	OpenFeed            reactor.FeedOpener
	Cron                *cron.Cron
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	cols := db.Collections{
		Connections:   config.ChatDatabase.ConnectionsCollection,
		Messages:      config.ChatDatabase.MessagesCollection,
		Statuses:      config.ChatDatabase.StatusesCollection,
		Notifications: config.ChatDatabase.NotificationsCollection,
		Deliveries:    config.ChatDatabase.DeliveriesCollection,
		Rollups:       config.ChatDatabase.RollupsCollection,
	}

	connectionTTL, err := Duration(config.Retention.ConnectionTTL)
	if err != nil {
		return nil, err
	}
	statusTTL, err := Duration(config.Retention.StatusTTL)
	if err != nil {
		return nil, err
	}
	messageRetention, err := Duration(config.Retention.MessageRetention)
	if err != nil {
		return nil, err
	}

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureIndexes(indexCtx, con, cols, messageRetention); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	registry := repo.NewConnectionRegistry(db.NewRepository[model.Connection](con, cols.Connections), connectionTTL, logger)
	messageRepo := repo.NewMessageRepository(db.NewRepository[model.Message](con, cols.Messages), logger)
	statusRepo := repo.NewStatusRepository(db.NewRepository[model.LiveStatus](con, cols.Statuses), logger)
	notificationRepo := repo.NewNotificationRepository(db.NewRepository[model.Notification](con, cols.Notifications), logger)
	deliveryRepo := repo.NewDeliveryRepository(db.NewRepository[model.Delivery](con, cols.Deliveries), logger)
	rollupRepo := repo.NewRollupRepository(db.NewRepository[model.DeliveryRollup](con, cols.Rollups), logger)

	tokenValidator := auth.NewTokenValidator(config.Auth.JwtSecret)

	h := hub.NewHub(registry, messageRepo, statusRepo, tokenValidator, statusTTL, logger)

	// The presence reactor resolves collaborators through a platform-owned
	// policy; this deployment ships without one, so collaborator presence
	// events reach nobody until a resolver is injected here.
	rct := reactor.New(registry, reactor.NoopResolver{}, h, logger)

	// The reactor owns the feed's lifecycle: it reopens the change stream
	// after a failure, so the opener must stay callable for the process
	// lifetime.
	connections := con.Collection(cols.Connections)
	openFeed := func(ctx context.Context) (reactor.Feed, error) {
		return reactor.NewMongoFeed(ctx, connections)
	}

	dispatcher := scheduler.NewDispatcher(logger)
	dispatcher.Register(model.ChannelWebsocket, scheduler.NewWebsocketSender(registry, h))
	if config.Channels.Email.SmtpHost != "" {
		mailClient := email.NewClient(
			config.Channels.Email.SmtpHost,
			config.Channels.Email.SmtpPort,
			config.Channels.Email.Username,
			config.Channels.Email.Password,
			config.Channels.Email.From,
		)
		dispatcher.Register(model.ChannelEmail, scheduler.NewEmailSender(mailClient))
	}
	if config.Channels.Telegram.BotToken != "" {
		dispatcher.Register(model.ChannelTelegram, scheduler.NewTelegramSender(telegram.NewClient(config.Channels.Telegram.BotToken)))
	}

	retryTimeout, err := Duration(config.Jobs.RetryTimeout)
	if err != nil {
		return nil, err
	}
	cleanupTimeout, err := Duration(config.Jobs.CleanupTimeout)
	if err != nil {
		return nil, err
	}

	retryScheduler := scheduler.NewRetryScheduler(deliveryRepo, notificationRepo, dispatcher, retryTimeout, logger)
	cleanup := scheduler.NewCleanup(notificationRepo, deliveryRepo, rollupRepo, cleanupTimeout, logger)

	c := cron.New()
	if _, err := c.AddFunc("@every "+config.Jobs.RetryInterval, func() {
		report := retryScheduler.Run(context.Background())
		logger.Info("retry job finished",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed))
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule retry job: %w", err)
	}
	if _, err := c.AddFunc("@every "+config.Jobs.CleanupInterval, func() {
		report := cleanup.Run(context.Background(), false)
		logger.Info("cleanup job finished",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed))
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule cleanup job: %w", err)
	}

	v := validator.New()

	notificationHandler := handler.NewNotificationHandler(notificationRepo, deliveryRepo, retryScheduler, v, logger)
	jobsHandler := handler.NewJobsHandler(retryScheduler, cleanup, logger)
	monitorHandler := handler.NewMonitorHandler(hub.NewMonitorService(h), logger)
	messageHandler := handler.NewMessageHandler(messageRepo, logger)
	statusHandler := handler.NewStatusHandler(statusRepo, logger)

	return &Container{
		NotificationHandler: notificationHandler,
		JobsHandler:         jobsHandler,
		MonitorHandler:      monitorHandler,
		MessageHandler:      messageHandler,
		StatusHandler:       statusHandler,
		Hub:                 h,
		Reactor:             rct,
		OpenFeed:            openFeed,
		Cron:                c,
		Config:              *config,
		Logger:              logger,
		mongoClient:         con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	if c.Cron != nil {
		c.Cron.Stop()
	}

	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
