package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/infra/memory"
)

func TestSubmitRecordsAllEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := time.Date(2024, 11, 22, 9, 30, 0, 0, time.UTC)
	service := f.service(app.WithClock(func() time.Time { return at }))

	summary, err := service.Submit(ctx, "quiz-1", "u1", domain.AnswerSet{"4", "Lyon"}, 30)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.HistoryID)
	assert.Equal(t, 10, summary.Score)
	assert.Equal(t, 50.0, summary.Percentage)
	assert.True(t, summary.Passed)

	record, err := f.store.GetHistory(ctx, summary.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "u1", record.UserID)
	assert.Equal(t, "quiz-1", record.QuizID)
	assert.Equal(t, 30, record.TimeTaken)
	assert.True(t, record.CreatedAt.Equal(at))
	require.Len(t, record.Answers, 2)
	assert.True(t, record.Answers[0].IsCorrect)
	assert.Equal(t, "Paris", record.Answers[1].CorrectAnswer)

	stats, err := service.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Points)
	assert.Equal(t, 1, stats.QuizzesTaken)
	require.NotNil(t, stats.LastQuizDate)
	assert.True(t, stats.LastQuizDate.Equal(at))

	analytics, err := service.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.TotalAttempts)
	assert.Equal(t, 50.0, analytics.AverageScore)
}

func TestSubmitUnknownQuizHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	service := f.service()

	_, err := service.Submit(ctx, "quiz-unknown", "u1", domain.AnswerSet{"4"}, 0)
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.assertUntouched(t)
}

func TestSubmitUnknownUserAbortsUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	service := f.service()

	_, err := service.Submit(ctx, "quiz-1", "ghost", domain.AnswerSet{"4", "Paris"}, 0)
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	analytics, err := f.store.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Zero(t, analytics.TotalAttempts)
	_, total, err := f.store.ListHistory(ctx, "ghost", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmitRejectsInvalidQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.catalog.PutQuiz(ctx, domain.Quiz{ID: "empty", PassingScore: 50}))
	service := f.service()

	_, err := service.Submit(ctx, "empty", "u1", nil, 0)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "questions", verr.Field)
	assert.ErrorIs(t, err, domain.ErrValidation)
	f.assertUntouched(t)
}

func TestSubmitFailureRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	logger, hook := logtest.NewNullLogger()
	failing := &faultyStore{Store: f.store, fail: errors.New("write user u1: connection reset by peer")}
	service := app.NewQuizService(f.quizzes, failing, f.store, app.WithLogger(logger))

	_, err := service.Submit(ctx, "quiz-1", "u1", domain.AnswerSet{"4", "Paris"}, 0)
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.NotErrorIs(t, err, domain.ErrSubmissionTimeout)
	assert.NotContains(t, err.Error(), "connection reset")

	f.assertUntouched(t)

	entry := findEntry(t, hook, "unit of work failed")
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "user_stats", entry.Data["stage"])
	assert.Equal(t, "quiz-1", entry.Data["quiz_id"])
	assert.Equal(t, "u1", entry.Data["user_id"])
	cause, ok := entry.Data[logrus.ErrorKey].(error)
	require.True(t, ok)
	assert.Contains(t, cause.Error(), "connection reset")
}

func TestSubmitTimeoutAppliesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	blocking := &faultyStore{Store: f.store, block: true}
	service := app.NewQuizService(f.quizzes, blocking, f.store, app.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := service.Submit(ctx, "quiz-1", "u1", domain.AnswerSet{"4", "Paris"}, 0)
	require.ErrorIs(t, err, domain.ErrSubmissionTimeout)
	assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.Less(t, time.Since(start), 2*time.Second)

	f.assertUntouched(t)
	assert.True(t, blocking.aborted(), "expected the unit to be aborted")
}

func TestSubmitCallerCancelledStillAborts(t *testing.T) {
	f := newFixture(t)
	blocking := &faultyStore{Store: f.store, block: true}
	service := app.NewQuizService(f.quizzes, blocking, f.store)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := service.Submit(ctx, "quiz-1", "u1", domain.AnswerSet{"4", "Paris"}, 0)
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.True(t, blocking.aborted())
	f.assertUntouched(t)
}

func TestConcurrentSubmissionsKeepExactCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	service := f.service()

	const users, perUser = 5, 8
	for i := 0; i < users; i++ {
		require.NoError(t, f.store.PutUser(ctx, domain.User{ID: fmt.Sprintf("c%d", i)}))
	}

	answerSets := []domain.AnswerSet{
		{"4", "Paris"}, // 100%
		{"4", "Rome"},  // 50%
		{"3", "Rome"},  // 0%
		{"3", "paris"}, // 50%
	}

	var (
		mu       sync.Mutex
		expected float64
		points   = make(map[string]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("c%d", i)
		for j := 0; j < perUser; j++ {
			answers := answerSets[(i+j)%len(answerSets)]
			g.Go(func() error {
				summary, err := service.Submit(gctx, "quiz-1", userID, answers, 1)
				if err != nil {
					return err
				}
				mu.Lock()
				expected += summary.Percentage
				points[userID] += summary.Score
				mu.Unlock()
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	analytics, err := service.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, users*perUser, analytics.TotalAttempts)
	assert.InDelta(t, expected/float64(users*perUser), analytics.AverageScore, 1e-9)

	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("c%d", i)
		stats, err := service.UserStats(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, perUser, stats.QuizzesTaken, userID)
		assert.Equal(t, points[userID], stats.Points, userID)

		page, err := service.History(ctx, userID, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, perUser, page.Total)
	}
}

type fixture struct {
	store   *memory.Store
	catalog *memory.QuizCatalog
	quizzes *memory.QuizRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.PutUser(context.Background(), domain.User{ID: "u1", DisplayName: "Alice"}))
	catalog := memory.NewQuizCatalog(sampleQuiz())
	return &fixture{
		store:   store,
		catalog: catalog,
		quizzes: memory.NewQuizRepository(catalog, 0),
	}
}

func (f *fixture) service(opts ...app.Option) *app.QuizService {
	return app.NewQuizService(f.quizzes, f.store, f.store, opts...)
}

// assertUntouched checks that u1 and quiz-1 are exactly as seeded.
func (f *fixture) assertUntouched(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	stats, err := f.store.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Points)
	assert.Zero(t, stats.QuizzesTaken)
	assert.Nil(t, stats.LastQuizDate)

	analytics, err := f.store.QuizAnalytics(ctx, "quiz-1")
	require.NoError(t, err)
	assert.Zero(t, analytics.TotalAttempts)
	assert.Zero(t, analytics.AverageScore)

	_, total, err := f.store.ListHistory(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

// faultyStore wraps the memory store with a unit of work that fails or
// blocks while updating user stats.
type faultyStore struct {
	*memory.Store
	fail  error
	block bool

	mu     sync.Mutex
	aborts int
}

func (s *faultyStore) Begin(ctx context.Context) (app.SubmissionTx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{SubmissionTx: tx, store: s}, nil
}

func (s *faultyStore) aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts > 0
}

type faultyTx struct {
	app.SubmissionTx
	store *faultyStore
}

func (t *faultyTx) IncrementUserStats(ctx context.Context, userID string, points int, at time.Time) error {
	if t.store.fail != nil {
		return t.store.fail
	}
	if t.store.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.SubmissionTx.IncrementUserStats(ctx, userID, points, at)
}

func (t *faultyTx) Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("abort with done context: %w", err)
	}
	t.store.mu.Lock()
	t.store.aborts++
	t.store.mu.Unlock()
	return t.SubmissionTx.Abort(ctx)
}

func findEntry(t *testing.T, hook *logtest.Hook, message string) *logrus.Entry {
	t.Helper()
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, message) {
			return entry
		}
	}
	t.Fatalf("no log entry %q", message)
	return nil
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
				},
				Points:      10,
				Explanation: "Two pairs make four.",
			},
			{
				ID:            "q2",
				Type:          domain.QuestionShortAnswer,
				Prompt:        "Capital of France?",
				CorrectAnswer: "Paris",
				Points:        5,
				Explanation:   "Paris has been the capital since 987.",
			},
		},
	}
}
