package integration

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/sync/errgroup"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/infra/postgres"
	pgmigrations "quiz-assessment-service/internal/infra/postgres/migrations"
	infraredis "quiz-assessment-service/internal/infra/redis"
)

func TestSubmitEndToEndPostgres(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := postgres.OpenDB(pgURL)
	defer db.Close()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)

	store := postgres.NewStore(db)
	require.NoError(t, store.PutQuiz(ctx, sampleQuiz()))
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		require.NoError(t, store.PutUser(ctx, domain.User{ID: id, DisplayName: strings.ToUpper(id)}))
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	defer redisClient.Close()

	log := quietLogger()
	quizRepo := infraredis.NewQuizRepository(redisClient, postgres.NewQuizLoader(pool), 5*time.Minute, log)
	service := app.NewQuizService(quizRepo, store, postgres.NewReader(pool),
		app.WithLogger(log),
		app.WithFeeds(infraredis.NewFeedStore(redisClient, 5*time.Minute, log)),
	)

	exerciseService(t, ctx, service)
}

// exerciseService runs the same scenario against any backend.
func exerciseService(t *testing.T, ctx context.Context, service *app.QuizService) {
	t.Helper()

	updates, cancel, err := service.Subscribe(ctx, "quiz-1")
	require.NoError(t, err)
	defer cancel()
	initial := <-updates
	assert.Zero(t, initial.TotalAttempts)

	summary, err := service.Submit(ctx, "quiz-1", "u1", domain.AnswerSet{"4", "paris"}, 12)
	require.NoError(t, err)
	assert.Equal(t, 15, summary.Score)
	assert.Equal(t, 100.0, summary.Percentage)
	assert.True(t, summary.Passed)

	select {
	case snapshot := <-updates:
		assert.Equal(t, 1, snapshot.TotalAttempts)
	case <-time.After(5 * time.Second):
		t.Fatalf("expected analytics update")
	}

	view, err := service.HistoryRecord(ctx, "u1", summary.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, 12, view.TimeTaken)
	require.Len(t, view.Answers, 2)
	assert.Equal(t, "Paris", view.Answers[1].CorrectAnswer)

	// Unknown users leave no trace.
	_, err = service.Submit(ctx, "quiz-1", "ghost", domain.AnswerSet{"4"}, 0)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	analytics, err := service.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.TotalAttempts)

	_, err = service.Submit(ctx, "quiz-missing", "u1", domain.AnswerSet{"4"}, 0)
	require.ErrorIs(t, err, domain.ErrQuizNotFound)

	// Concurrent submissions: 1 earlier at 100% plus 4 users x 5 alternating 50%/0%.
	const perUser = 5
	users := []string{"u1", "u2", "u3", "u4"}
	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range users {
		userID := userID
		for i := 0; i < perUser; i++ {
			answers := domain.AnswerSet{"4", "Rome"}
			if i%2 == 1 {
				answers = domain.AnswerSet{"3", "Rome"}
			}
			g.Go(func() error {
				_, err := service.Submit(gctx, "quiz-1", userID, answers, 1)
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	analytics, err = service.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	total := 1 + len(users)*perUser
	// Per user: three 50% and two 0% submissions.
	sum := 100.0 + float64(len(users))*3*50
	assert.Equal(t, total, analytics.TotalAttempts)
	assert.InDelta(t, sum/float64(total), analytics.AverageScore, 1e-6)

	stats, err := service.UserStats(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, perUser, stats.QuizzesTaken)
	assert.Equal(t, 3*10, stats.Points)
	require.NotNil(t, stats.LastQuizDate)

	page, err := service.History(ctx, "u1", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 1+perUser, page.Total)
	require.Len(t, page.Records, 4)
	for i := 1; i < len(page.Records); i++ {
		assert.False(t, page.Records[i].CreatedAt.After(page.Records[i-1].CreatedAt), "history must be newest first")
	}
	page, err = service.History(ctx, "u1", 2, 4)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 1+perUser, page.Total)

	page, err = service.History(ctx, "u1", 9, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, 1+perUser, page.Total)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container := startContainer(t, ctx, req)
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest) tc.Container {
	t.Helper()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	return container
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:           "quiz-1",
		Title:        "Basics",
		PassingScore: 50,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionMCQ,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
				Points: 10,
			},
			{
				ID:            "q2",
				Type:          domain.QuestionShortAnswer,
				Prompt:        "Capital of France?",
				CorrectAnswer: "Paris",
				Points:        5,
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
