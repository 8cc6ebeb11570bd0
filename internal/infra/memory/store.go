package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

var errTxDone = errors.New("unit of work already committed or aborted")

// Store keeps history, user stats and quiz analytics in process memory.
// A unit of work stages its writes and applies them under a single lock on
// commit, so readers observe either all of them or none.
type Store struct {
	mu        sync.RWMutex
	users     map[string]domain.UserStats
	analytics map[string]domain.QuizAnalytics
	history   map[string]domain.HistoryRecord
	byUser    map[string][]string
}

func NewStore() *Store {
	return &Store{
		users:     make(map[string]domain.UserStats),
		analytics: make(map[string]domain.QuizAnalytics),
		history:   make(map[string]domain.HistoryRecord),
		byUser:    make(map[string][]string),
	}
}

// PutUser registers a user; existing stats are kept.
func (s *Store) PutUser(_ context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.NewValidationError("id", "user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		s.users[user.ID] = domain.UserStats{UserID: user.ID}
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (app.SubmissionTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &submissionTx{store: s}, nil
}

func (s *Store) ListHistory(_ context.Context, userID string, offset, limit int) ([]domain.HistoryRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	records := make([]domain.HistoryRecord, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		records = append(records, s.history[ids[i]])
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	total := len(records)
	if offset < 0 || offset >= total {
		return []domain.HistoryRecord{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]domain.HistoryRecord, 0, end-offset)
	for _, r := range records[offset:end] {
		page = append(page, cloneRecord(r))
	}
	return page, total, nil
}

func (s *Store) GetHistory(_ context.Context, historyID string) (domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.history[historyID]
	if !ok {
		return domain.HistoryRecord{}, domain.ErrHistoryNotFound
	}
	return cloneRecord(record), nil
}

func (s *Store) UserStats(_ context.Context, userID string) (domain.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.users[userID]
	if !ok {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	return stats, nil
}

// QuizAnalytics returns zero analytics for quizzes that were never attempted.
func (s *Store) QuizAnalytics(_ context.Context, quizID string) (domain.QuizAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	analytics, ok := s.analytics[quizID]
	if !ok {
		return domain.QuizAnalytics{QuizID: quizID}, nil
	}
	return analytics, nil
}

func (s *Store) hasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

type userIncrement struct {
	userID string
	points int
	at     time.Time
}

type quizAttempt struct {
	quizID     string
	percentage float64
}

type submissionTx struct {
	store    *Store
	done     bool
	history  []domain.HistoryRecord
	users    []userIncrement
	attempts []quizAttempt
}

func (t *submissionTx) InsertHistory(ctx context.Context, record *domain.HistoryRecord) error {
	if t.done {
		return errTxDone
	}
	if record.ID == "" {
		return domain.NewValidationError("id", "history id is required")
	}
	t.history = append(t.history, cloneRecord(*record))
	return ctx.Err()
}

func (t *submissionTx) IncrementUserStats(ctx context.Context, userID string, points int, at time.Time) error {
	if t.done {
		return errTxDone
	}
	if !t.store.hasUser(userID) {
		return domain.ErrUserNotFound
	}
	t.users = append(t.users, userIncrement{userID: userID, points: points, at: at})
	return ctx.Err()
}

func (t *submissionTx) RecordQuizAttempt(ctx context.Context, quizID string, percentage float64) error {
	if t.done {
		return errTxDone
	}
	t.attempts = append(t.attempts, quizAttempt{quizID: quizID, percentage: percentage})
	return ctx.Err()
}

// Commit validates every staged write before applying any of them.
func (t *submissionTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inc := range t.users {
		if _, ok := s.users[inc.userID]; !ok {
			return domain.ErrUserNotFound
		}
	}
	for _, rec := range t.history {
		if _, ok := s.history[rec.ID]; ok {
			return fmt.Errorf("insert history %s: duplicate id", rec.ID)
		}
	}

	for _, rec := range t.history {
		s.history[rec.ID] = rec
		s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.ID)
	}
	for _, inc := range t.users {
		stats := s.users[inc.userID]
		stats.Points += inc.points
		stats.QuizzesTaken++
		at := inc.at
		stats.LastQuizDate = &at
		s.users[inc.userID] = stats
	}
	for _, attempt := range t.attempts {
		current, ok := s.analytics[attempt.quizID]
		if !ok {
			current = domain.QuizAnalytics{QuizID: attempt.quizID}
		}
		s.analytics[attempt.quizID] = current.Record(attempt.percentage)
	}

	t.done = true
	return nil
}

func (t *submissionTx) Abort(context.Context) error {
	t.done = true
	t.history, t.users, t.attempts = nil, nil, nil
	return nil
}

func cloneRecord(r domain.HistoryRecord) domain.HistoryRecord {
	answers := make([]domain.QuestionResult, len(r.Answers))
	copy(answers, r.Answers)
	r.Answers = answers
	return r
}
