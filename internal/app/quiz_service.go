package app

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/grading"
)

// DefaultSubmissionTimeout bounds every storage call made by Submit.
const DefaultSubmissionTimeout = 5 * time.Second

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SubmissionTx is one open unit of work. Writes made through it become
// visible together on Commit or not at all.
type SubmissionTx interface {
	InsertHistory(ctx context.Context, record *domain.HistoryRecord) error
	// IncrementUserStats adds points, counts one more quiz and stamps the date.
	IncrementUserStats(ctx context.Context, userID string, points int, at time.Time) error
	// RecordQuizAttempt counts one more attempt and folds percentage into the
	// running mean using the incremented count.
	RecordQuizAttempt(ctx context.Context, quizID string, percentage float64) error
	Commit(ctx context.Context) error
	// Abort discards staged writes. It is safe to call after a failed Commit.
	Abort(ctx context.Context) error
}

// SubmissionStore opens units of work against the backing store.
type SubmissionStore interface {
	Begin(ctx context.Context) (SubmissionTx, error)
}

// HistoryReader pages through persisted history records.
type HistoryReader interface {
	// ListHistory returns one page of a user's records, newest first, and the
	// user's total record count.
	ListHistory(ctx context.Context, userID string, offset, limit int) ([]domain.HistoryRecord, int, error)
	GetHistory(ctx context.Context, historyID string) (domain.HistoryRecord, error)
}

// StatsReader reads the counters maintained by submissions.
type StatsReader interface {
	UserStats(ctx context.Context, userID string) (domain.UserStats, error)
	QuizAnalytics(ctx context.Context, quizID string) (domain.QuizAnalytics, error)
}

// Reader is the read side of a backing store.
type Reader interface {
	HistoryReader
	StatsReader
}

// QuizService contains the quiz submission use cases.
type QuizService struct {
	quizzes QuizRepository
	store   SubmissionStore
	reads   Reader
	feeds   FeedRepository

	log             logrus.FieldLogger
	timeout         time.Duration
	explanationLock time.Duration
	now             func() time.Time
	newID           func() string
}

// Option configures a QuizService.
type Option func(*QuizService)

// WithLogger sets the diagnostics logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *QuizService) { s.log = l }
}

// WithTimeout overrides DefaultSubmissionTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *QuizService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithExplanationLock hides explanations in history until d after submission.
func WithExplanationLock(d time.Duration) Option {
	return func(s *QuizService) { s.explanationLock = d }
}

// WithFeeds enables live analytics feeds.
func WithFeeds(feeds FeedRepository) Option {
	return func(s *QuizService) { s.feeds = feeds }
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *QuizService) { s.now = now }
}

func NewQuizService(quizzes QuizRepository, store SubmissionStore, reads Reader, opts ...Option) *QuizService {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &QuizService{
		quizzes: quizzes,
		store:   store,
		reads:   reads,
		log:     discard,
		timeout: DefaultSubmissionTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit grades answers and records the submission. The history insert, the
// user's stats and the quiz's analytics are applied in one unit of work.
func (s *QuizService) Submit(ctx context.Context, quizID, userID string, answers domain.AnswerSet, timeTaken int) (domain.SubmissionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{"quiz_id": quizID, "user_id": userID})

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SubmissionSummary{}, err
		}
		log.WithError(err).Error("load quiz failed")
		return domain.SubmissionSummary{}, submissionFailure(ctx, err)
	}

	result, err := grading.Grade(quiz, answers)
	if err != nil {
		return domain.SubmissionSummary{}, err
	}

	record := &domain.HistoryRecord{
		ID:         s.newID(),
		UserID:     userID,
		QuizID:     quizID,
		Answers:    result.Answers,
		Score:      result.Score,
		Percentage: result.Percentage,
		Passed:     result.Passed,
		TimeTaken:  timeTaken,
		CreatedAt:  s.now().UTC(),
	}
	log = log.WithField("history_id", record.ID)

	if err := s.apply(ctx, log, record); err != nil {
		return domain.SubmissionSummary{}, err
	}
	log.WithFields(logrus.Fields{
		"score":      record.Score,
		"percentage": record.Percentage,
		"passed":     record.Passed,
	}).Info("submission recorded")

	s.publish(ctx, log, quizID)

	return domain.SubmissionSummary{
		HistoryID:  record.ID,
		Score:      record.Score,
		Percentage: record.Percentage,
		Passed:     record.Passed,
	}, nil
}

// apply runs the three writes in one unit of work and aborts it on any failure.
func (s *QuizService) apply(ctx context.Context, log logrus.FieldLogger, record *domain.HistoryRecord) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		log.WithError(err).WithField("stage", "begin").Error("unit of work failed")
		return submissionFailure(ctx, err)
	}

	stage, err := writeSubmission(ctx, tx, record)
	if err == nil {
		stage = "commit"
		err = tx.Commit(ctx)
	}
	if err == nil {
		return nil
	}

	// The caller's context may already be done; the abort must still run.
	if abortErr := tx.Abort(context.WithoutCancel(ctx)); abortErr != nil {
		log.WithError(abortErr).Warn("abort unit of work failed")
	}
	log.WithError(err).WithField("stage", stage).Error("unit of work failed")

	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return submissionFailure(ctx, err)
}

func writeSubmission(ctx context.Context, tx SubmissionTx, record *domain.HistoryRecord) (string, error) {
	if err := tx.InsertHistory(ctx, record); err != nil {
		return "history", err
	}
	if err := tx.IncrementUserStats(ctx, record.UserID, record.Score, record.CreatedAt); err != nil {
		return "user_stats", err
	}
	if err := tx.RecordQuizAttempt(ctx, record.QuizID, record.Percentage); err != nil {
		return "quiz_analytics", err
	}
	return "", nil
}

// submissionFailure hides the storage cause behind the public error taxonomy.
func submissionFailure(ctx context.Context, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrSubmissionTimeout
	}
	return domain.ErrSubmissionFailed
}

// publish pushes fresh analytics to live subscribers; failures never affect the submission.
func (s *QuizService) publish(ctx context.Context, log logrus.FieldLogger, quizID string) {
	if s.feeds == nil {
		return
	}
	feed, ok := s.feeds.Get(quizID)
	if !ok {
		return
	}
	analytics, err := s.reads.QuizAnalytics(ctx, quizID)
	if err != nil {
		log.WithError(err).Warn("read analytics for feed failed")
		return
	}
	feed.publish(analytics)
}
