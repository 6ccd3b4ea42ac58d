package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taxsync/internal/config"
	"taxsync/internal/event"
	"taxsync/internal/handler"
	"taxsync/internal/infrastructure/cache"
	"taxsync/internal/infrastructure/database"
	"taxsync/internal/infrastructure/lock"
	"taxsync/internal/infrastructure/logging"
	"taxsync/internal/infrastructure/mq"
	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/job"
	"taxsync/internal/record"
	"taxsync/internal/repository"
	"taxsync/internal/scheduler"
	"taxsync/internal/service"
	"taxsync/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("TAXSYNC_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("服务异常退出", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 初始化批次号生成器，机器ID区分副本
	idgen.Init(cfg.Sync.WorkerID)

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return err
	}
	publisher := mq.NewPublisher(producer)
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 仓储与记录依赖
	queueRepo := repository.NewQueueRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	deps := &record.Deps{
		DB:     db,
		Queue:  queueRepo,
		Orders: orderRepo,
		Outbox: outboxRepo,
		Client: taxapi.NewHTTPClient(cfg.TaxAPI),
		Logger: logger.Named("record"),
		Options: record.Options{
			MaxRetries:         cfg.Sync.MaxRetries,
			SupportedCountries: cfg.Sync.SupportedCountries,
			ResultTopic:        cfg.Kafka.Topic.SyncResult,
		},
	}

	// 调度器：批处理任务的执行端
	sched, err := newScheduler(cfg, publisher, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Close(); err != nil {
			logger.Warn("关闭调度器失败", zap.Error(err))
		}
	}()
	batchProcessor := job.NewBatchProcessor(queueRepo, deps, logger.Named("batch_processor"))
	sched.Register(job.JobProcessBatch, batchProcessor.Handle)
	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("调度器退出", zap.Error(err))
		}
	}()

	// 多副本时用 Redis 租约锁保证每个周期只有一个副本扫描
	hostname, _ := os.Hostname()
	locker := lock.NewJobLocker(redisClient, hostname)

	queueProcessor := job.NewQueueProcessor(queueRepo, sched, locker, cfg.Sync, logger.Named("queue_processor"))
	go queueProcessor.Start(ctx)

	backfiller := job.NewBackfiller(orderRepo, queueRepo, cfg.Sync.Location(), logger.Named("backfill"))
	backfillJob := job.NewBackfillJob(backfiller, locker, cfg.Sync.BackfillInterval, logger.Named("backfill"))
	go backfillJob.Start(ctx)

	outboxSender := job.NewOutboxSender(outboxRepo, publisher, cfg.Sync.MaxOutboxRetry, logger.Named("outbox_sender"))
	go outboxSender.Start(ctx)

	// 事件接入：Kafka + HTTP 共用一个总线
	bus := event.NewBus()
	syncService := service.NewSyncService(deps, logger.Named("sync_service"))
	syncService.Register(bus)

	eventGroup, err := mq.InitConsumerGroup(&cfg.Kafka, cfg.Kafka.GroupID+".events")
	if err != nil {
		return err
	}
	defer eventGroup.Close()
	eventConsumer := mq.NewEventConsumer(eventGroup, cfg.Kafka.Topic.OrderEvents, bus, logger.Named("event_consumer"))
	go func() {
		if err := eventConsumer.Run(ctx); err != nil {
			logger.Error("事件消费退出", zap.Error(err))
		}
	}()

	h := handler.NewHandler(syncService, backfiller, queueRepo, bus, cfg.Sync.Location(), logger.Named("handler"))
	router := handler.SetupRouter(h, logger.Named("http"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("scheduler", cfg.Sync.Scheduler))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	cancel()
	queueProcessor.Stop()
	backfillJob.Stop()
	outboxSender.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("服务关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
	return nil
}

func newScheduler(cfg *config.Config, publisher *mq.Publisher, logger *zap.Logger) (scheduler.Scheduler, error) {
	if cfg.Sync.Scheduler == config.SchedulerLocal {
		return scheduler.NewLocalScheduler(cfg.Sync.LocalWorkers, logger), nil
	}

	group, err := mq.InitConsumerGroup(&cfg.Kafka, cfg.Kafka.GroupID)
	if err != nil {
		return nil, err
	}
	return scheduler.NewKafkaScheduler(publisher, group, cfg.Kafka.Topic.BatchJobs, logger), nil
}
