package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/config"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/infra/memory"
	"quiz-assessment-service/internal/infra/mongo"
	"quiz-assessment-service/internal/infra/postgres"
	infraredis "quiz-assessment-service/internal/infra/redis"
)

// seeder writes fixture data into a backing store.
type seeder interface {
	PutQuiz(ctx context.Context, quiz domain.Quiz) error
	PutUser(ctx context.Context, user domain.User) error
}

// backend bundles the storage collaborators of one configured driver.
type backend struct {
	loader memory.QuizLoader
	store  app.SubmissionStore
	reads  app.Reader
	seeder seeder
	close  func()
}

func openBackend(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db := postgres.OpenDB(cfg.Postgres.URL)
		store := postgres.NewStore(db)
		return &backend{
			loader: postgres.NewQuizLoader(pool),
			store:  store,
			reads:  postgres.NewReader(pool),
			seeder: store,
			close: func() {
				pool.Close()
				_ = db.Close()
			},
		}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		store := mongo.NewStore(client, cfg.Mongo.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &backend{
			loader: store,
			store:  store,
			reads:  store,
			seeder: store,
			close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	default:
		catalog := memory.NewQuizCatalog()
		store := memory.NewStore()
		return &backend{
			loader: catalog,
			store:  store,
			reads:  store,
			seeder: memorySeeder{catalog: catalog, store: store},
			close:  func() {},
		}, nil
	}
}

type memorySeeder struct {
	catalog *memory.QuizCatalog
	store   *memory.Store
}

func (s memorySeeder) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	return s.catalog.PutQuiz(ctx, quiz)
}

func (s memorySeeder) PutUser(ctx context.Context, user domain.User) error {
	return s.store.PutUser(ctx, user)
}

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// quizCache fronts the loader with Redis when configured, else a process-local cache.
func quizCache(cfg config.Config, client *redis.Client, loader memory.QuizLoader, log logrus.FieldLogger) app.QuizRepository {
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if client != nil {
		return infraredis.NewQuizRepository(client, loader, quizTTL, log)
	}
	return memory.NewQuizRepository(loader, quizTTL)
}

func feedStore(cfg config.Config, client *redis.Client, log logrus.FieldLogger) app.FeedRepository {
	if client != nil {
		return infraredis.NewFeedStore(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute), log)
	}
	return memory.NewFeedStore()
}
