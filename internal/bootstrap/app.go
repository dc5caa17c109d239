package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/SkywardAI/kirin/internal/ai"
	"github.com/SkywardAI/kirin/internal/config"
	"github.com/SkywardAI/kirin/internal/conversation"
	"github.com/SkywardAI/kirin/internal/model"
	mysqlClient "github.com/SkywardAI/kirin/internal/platform/mysql"
	rabbitmqClient "github.com/SkywardAI/kirin/internal/platform/rabbitmq"
	redisClient "github.com/SkywardAI/kirin/internal/platform/redis"
	"github.com/SkywardAI/kirin/internal/repository"
	"github.com/SkywardAI/kirin/internal/vector"
	"github.com/SkywardAI/kirin/internal/worker"
)

// App owns the process-wide singletons: clients are long-lived and
// connection-pooled, the conversation cache and reaper are constructed
// once at startup and torn down at shutdown.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	Inference   *ai.Client
	VectorIndex *vector.Index
	ConvCache   *conversation.Cache
	Reaper      *conversation.Reaper
	TurnWorker  *worker.TurnPersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := newLogger(cfg.Log)

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Account{}, &model.Session{}, &model.ChatTurn{}, &model.Dataset{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	inference := ai.NewClient(
		cfg.Inference.BaseURL,
		time.Duration(cfg.Inference.ConnectTimeoutSeconds)*time.Second,
		logger,
	)
	vectorIndex := vector.NewIndex(cfg.Vector.BaseURL, cfg.Vector.Dimension, logger)

	turnRepo := repository.NewChatTurnRepository(mysqlDB)
	convCache := conversation.NewCache(turnRepo, cfg.Conversation.MaxEntries)
	reaper := conversation.NewReaper(
		convCache,
		turnRepo,
		time.Duration(cfg.Conversation.ReapIntervalSeconds)*time.Second,
		time.Duration(cfg.Conversation.IdleSeconds)*time.Second,
		logger,
	)
	reaper.Start(ctx)

	turnWorker := worker.NewTurnPersistWorker(mqConn, turnRepo, cfg.RabbitMQ.TurnPersistQueue, logger)
	if err := turnWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start turn persist worker failed: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		MySQL:       mysqlDB,
		Redis:       redisCli,
		MQConn:      mqConn,
		Inference:   inference,
		VectorIndex: vectorIndex,
		ConvCache:   convCache,
		Reaper:      reaper,
		TurnWorker:  turnWorker,
		StartedAt:   time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Reaper != nil {
		// Flushes everything still resident before the stores go away.
		a.Reaper.Close()
	}
	if a.TurnWorker != nil {
		a.TurnWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
