// Package bootstrap wires configuration into the API and worker processes.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"rule_server/adapter/out/mongodb"
	"rule_server/adapter/out/oracle"
	"rule_server/adapter/out/persistence"
	"rule_server/adapter/out/provider"
	"rule_server/config"
	"rule_server/core/port/out"
	"rule_server/core/service/rules"
	"rule_server/infra/database"
	"rule_server/internal/stream"
	"rule_server/pkg/cache"
	"rule_server/pkg/crypto"
	"rule_server/pkg/httputil"
	"rule_server/pkg/logger"
	"rule_server/pkg/metrics"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	Stream   *stream.RedisStream
	Producer *stream.Producer

	Matcher *rules.Matcher
	Runner  *rules.Runner
}

// NewDependencies connects every store and builds the rule service. The
// returned cleanup closes connections in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// PostgreSQL
	pgCfg := database.DefaultPostgresConfig()
	pool, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(fmt.Errorf("postgres: %w", err))
	}
	deps.DB = pool
	cleanups = append(cleanups, pool.Close)

	sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(fmt.Errorf("sqlx: %w", err))
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	if err := metrics.RegisterPool("postgres", sqlDB.DB); err != nil {
		logger.WithError(err).Warn("failed to register pool metrics")
	}
	logger.Info("PostgreSQL connected (max conns: %d)", pgCfg.MaxConns)

	// Redis
	redisClient, err := database.NewRedis(ctx, cfg.RedisURL, nil)
	if err != nil {
		return fail(fmt.Errorf("redis: %w", err))
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { _ = redisClient.Close() })
	logger.Info("Redis connected")

	// MongoDB
	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
	if err != nil {
		return fail(fmt.Errorf("mongodb: %w", err))
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() { _ = mongoClient.Disconnect(context.Background()) })

	history := mongodb.NewExecutedRuleAdapter(mongoClient.Database(cfg.MongoDBName))
	if err := history.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("failed to ensure executed_rules indexes")
	}
	logger.Info("MongoDB connected (database: %s)", cfg.MongoDBName)

	// Token decryption
	var cipher *crypto.TokenCipher
	if cfg.EncryptionKey != "" {
		if cipher, err = crypto.NewTokenCipher(cfg.EncryptionKey); err != nil {
			return fail(err)
		}
	} else {
		logger.Warn("ENCRYPTION_KEY not set, OAuth tokens are read as stored")
	}

	// Oracle
	var chooser out.RuleChooser
	if cfg.OpenAIAPIKey != "" {
		chooser = oracle.NewChooser(oracle.Config{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.LLMModel,
			MaxTokens:    cfg.LLMMaxTokens,
			Temperature:  cfg.LLMTemperature,
			Timeout:      cfg.LLMTimeout(),
			MaxBodyChars: cfg.OracleMaxBodyChars,
			HTTPClient:   httputil.NewClient(httputil.OpenAIClientConfig()),
		})
		logger.Info("Rule oracle enabled (model: %s)", cfg.LLMModel)
	} else {
		logger.Warn("OPENAI_API_KEY not set, AI rules will never match")
	}

	// Job stream
	deps.Stream = stream.NewRedisStream(redisClient, stream.Config{
		Group: "rule-workers",
		Count: int64(cfg.ConsumerBatchSize),
		Block: cfg.ConsumerBlock(),

		ClaimIdle:     cfg.ClaimIdle(),
		MaxDeliveries: int64(cfg.StreamMaxDeliver),
	})
	deps.Producer = stream.NewProducer(deps.Stream)

	// Rule service
	deps.Matcher = rules.NewMatcher(
		persistence.NewGroupAdapter(sqlDB),
		persistence.NewSenderAdapter(sqlDB),
		chooser,
	)
	deps.Runner = rules.NewRunner(rules.RunnerDeps{
		RuleRepo:  persistence.NewRuleAdapter(sqlDB),
		UserRepo:  persistence.NewUserAdapter(sqlDB),
		OAuthRepo: persistence.NewOAuthAdapter(sqlDB, cipher),
		History:   history,
		Processed: cache.NewProcessedStore(redisClient, cfg.ProcessedTTL()),
		Provider: provider.NewGmailAdapter(&provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   httputil.NewClient(httputil.GmailClientConfig()),
		}),
		Queue:   deps.Producer,
		Matcher: deps.Matcher,
	}, rules.RunnerConfig{
		BulkPageSize: cfg.BulkPageSize,
	})

	return deps, cleanup, nil
}
