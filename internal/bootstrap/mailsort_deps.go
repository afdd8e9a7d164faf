package bootstrap

import (
	"context"
	"strings"
	"time"

	rediscache "mailsort_server/adapter/out/cache"
	"mailsort_server/adapter/out/persistence"
	"mailsort_server/adapter/out/provider/graph"
	"mailsort_server/config"
	"mailsort_server/core/agent/llm"
	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classify"
	"mailsort_server/core/service/forwarding"
	"mailsort_server/core/service/monitor"
	"mailsort_server/core/service/rules"
	"mailsort_server/infra/database"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/cache"
	"mailsort_server/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	MessageRepo       out.MessageRepository
	RuleRepo          out.ClassifyRuleRepository
	ForwardingRepo    out.ForwardingRuleRepository
	ForwardingLogRepo out.ForwardingLogRepository
	MonitorStatusRepo out.MonitorStatusRepository
	MailboxRepo       out.MailboxRepository
	CategoryMapper    out.CategoryTypeMapper

	// Provider
	GraphProvider *graph.Provider

	// Cache
	RedisCache *cache.RedisCache

	// Classification
	LLMClient *llm.Client
	Registry  *classify.Registry
	Cascade   *classify.Cascade

	// Forwarding
	Router *forwarding.Router

	// Monitoring
	Lease   out.MailboxLease
	Monitor *monitor.Monitor
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for adapters)
	// Simple protocol avoids prepared statement conflicts behind PgBouncer
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis (optional: cache and distributed lease degrade gracefully)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, continuing without cache")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.RedisCache = cache.NewRedisCache(redisClient)
		}
	}

	// Repositories
	deps.MessageRepo = persistence.NewMessageAdapter(sqlDB)
	deps.RuleRepo = persistence.NewClassifyRuleAdapter(sqlDB)
	deps.ForwardingRepo = persistence.NewForwardingRuleAdapter(sqlDB)
	deps.ForwardingLogRepo = persistence.NewForwardingLogAdapter(sqlDB)
	deps.MonitorStatusRepo = persistence.NewMonitorStatusAdapter(sqlDB)
	deps.MailboxRepo = persistence.NewMailboxAdapter(sqlDB)
	deps.CategoryMapper = persistence.NewCategoryMappingAdapter(
		sqlDB,
		deps.RedisCache,
		time.Duration(cfg.CacheMappingTTLMin)*time.Minute,
	)

	// Graph provider
	if cfg.MicrosoftClientID == "" || cfg.MicrosoftClientSecret == "" {
		logger.Warn("Microsoft OAuth credentials missing, token refresh will fail")
	}
	deps.GraphProvider = graph.NewProvider(graph.Config{
		ClientID:     cfg.MicrosoftClientID,
		ClientSecret: cfg.MicrosoftClientSecret,
		TenantID:     cfg.MicrosoftTenantID,
	}, logger.Default())

	// LLM client
	if cfg.OpenAIAPIKey != "" {
		deps.LLMClient = llm.NewClientWithConfig(llm.ClientConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		})
		logger.Info("LLM client initialized (model: %s)", cfg.LLMModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, LLM stage will be unavailable")
	}

	// Classification stages
	deps.Registry = classify.NewRegistry(stageFactories(cfg, deps), logger.Default())
	deps.Cascade = classify.NewCascade(deps.Registry, logger.Default())

	// Forwarding router (nil selector = first active address)
	deps.Router = forwarding.NewRouter(
		deps.ForwardingRepo,
		deps.ForwardingLogRepo,
		deps.CategoryMapper,
		deps.GraphProvider,
		nil,
		cfg.ForwardComment,
		logger.Default(),
	)

	// Per-mailbox lease: Redis when available so several instances can share
	// the mailboxes, in-process otherwise
	if deps.Redis != nil {
		deps.Lease = rediscache.NewRedisLease(deps.Redis, cfg.InstanceID)
		logger.Info("Using Redis mailbox lease (instance: %s)", cfg.InstanceID)
	} else {
		deps.Lease = monitor.NewLocalLease()
		logger.Warn("Using in-process mailbox lease, do not run multiple instances")
	}

	// Monitor
	deps.Monitor = monitor.New(
		deps.MailboxRepo,
		deps.MonitorStatusRepo,
		deps.MessageRepo,
		deps.GraphProvider,
		deps.Cascade,
		deps.Router,
		deps.Lease,
		monitor.Options{
			BootstrapLookback: cfg.MonitorBootstrapLookback(),
			MinInterval:       cfg.MonitorMinInterval(),
			MinLookback:       30 * time.Minute,
			FetchLimit:        cfg.MonitorFetchLimit,
			LeaseTTL:          cfg.MonitorLeaseTTL(),
		},
		logger.Default(),
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	return deps, cleanup, nil
}

// stageFactories binds each cascade stage to its configuration. Stages with
// missing configuration fail at first use and stay failed, the cascade just
// skips them.
func stageFactories(cfg *config.Config, deps *Dependencies) map[domain.StageType]classify.StageFactory {
	engine := rules.NewEngine(logger.Default())
	timeout := time.Duration(cfg.ModelTimeoutSec) * time.Second

	return map[domain.StageType]classify.StageFactory{
		domain.StageRule: func() (classify.Stage, error) {
			return classify.NewRuleStage(engine, deps.RuleRepo), nil
		},
		domain.StageFastText: func() (classify.Stage, error) {
			if cfg.FastTextURL == "" {
				return nil, apperr.ConfigError("FASTTEXT_URL not configured")
			}
			return classify.NewModelStage(classify.ModelStageConfig{
				Name:      "fasttext",
				Type:      domain.StageFastText,
				BaseURL:   cfg.FastTextURL,
				Threshold: cfg.FastTextThreshold,
				LabelMap:  cfg.FastTextLabelMap,
				Timeout:   timeout,
			}, logger.Default()), nil
		},
		domain.StageBERT: func() (classify.Stage, error) {
			if cfg.BERTURL == "" {
				return nil, apperr.ConfigError("BERT_URL not configured")
			}
			return classify.NewModelStage(classify.ModelStageConfig{
				Name:      "bert",
				Type:      domain.StageBERT,
				BaseURL:   cfg.BERTURL,
				Threshold: cfg.BERTThreshold,
				LabelMap:  cfg.BERTLabelMap,
				Timeout:   timeout,
			}, logger.Default()), nil
		},
		domain.StageLLM: func() (classify.Stage, error) {
			if deps.LLMClient == nil {
				return nil, apperr.ConfigError("OPENAI_API_KEY not configured")
			}
			return classify.NewLLMStage(deps.LLMClient, deps.RuleRepo, cfg.LLMThreshold, logger.Default()), nil
		},
	}
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}
