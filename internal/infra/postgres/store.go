package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

const foreignKeyViolation = "23503"

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID            string      `bun:"id,pk"`
	Data          domain.Quiz `bun:"data,type:jsonb"`
	TotalAttempts int         `bun:"total_attempts"`
	AverageScore  float64     `bun:"average_score"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID           string     `bun:"id,pk"`
	DisplayName  string     `bun:"display_name"`
	Points       int        `bun:"points"`
	QuizzesTaken int        `bun:"quizzes_taken"`
	LastQuizDate *time.Time `bun:"last_quiz_date"`
}

type historyRow struct {
	bun.BaseModel `bun:"table:quiz_history"`

	ID         string                  `bun:"id,pk"`
	UserID     string                  `bun:"user_id"`
	QuizID     string                  `bun:"quiz_id"`
	Answers    []domain.QuestionResult `bun:"answers,type:jsonb"`
	Score      int                     `bun:"score"`
	Percentage float64                 `bun:"percentage"`
	Passed     bool                    `bun:"passed"`
	TimeTaken  int                     `bun:"time_taken"`
	CreatedAt  time.Time               `bun:"created_at"`
}

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store opens submission units of work as Postgres transactions.
// Counter updates are single UPDATE statements computed from the row's
// current values, so the row lock taken by the first writer serialises
// concurrent submissions for the same user or quiz.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(ctx context.Context) (app.SubmissionTx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &submissionTx{tx: tx}, nil
}

// PutQuiz upserts a quiz definition, keeping its analytics.
func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	row := &quizRow{ID: quiz.ID, Data: quiz}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put quiz %s: %w", quiz.ID, err)
	}
	return nil
}

// PutUser upserts a user, keeping its stats.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	row := &userRow{ID: user.ID, DisplayName: user.DisplayName}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put user %s: %w", user.ID, err)
	}
	return nil
}

type submissionTx struct {
	tx bun.Tx
}

func (t *submissionTx) InsertHistory(ctx context.Context, record *domain.HistoryRecord) error {
	row := &historyRow{
		ID:         record.ID,
		UserID:     record.UserID,
		QuizID:     record.QuizID,
		Answers:    record.Answers,
		Score:      record.Score,
		Percentage: record.Percentage,
		Passed:     record.Passed,
		TimeTaken:  record.TimeTaken,
		CreatedAt:  record.CreatedAt,
	}
	if row.Answers == nil {
		row.Answers = []domain.QuestionResult{}
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return mapInsertError(err)
	}
	return nil
}

func (t *submissionTx) IncrementUserStats(ctx context.Context, userID string, points int, at time.Time) error {
	res, err := t.tx.NewUpdate().
		Model((*userRow)(nil)).
		Set("points = points + ?", points).
		Set("quizzes_taken = quizzes_taken + 1").
		Set("last_quiz_date = ?", at).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("increment user stats: %w", err)
	}
	return requireRow(res, domain.ErrUserNotFound)
}

func (t *submissionTx) RecordQuizAttempt(ctx context.Context, quizID string, percentage float64) error {
	res, err := t.tx.NewUpdate().
		Model((*quizRow)(nil)).
		Set("average_score = (average_score * total_attempts + ?) / (total_attempts + 1)", percentage).
		Set("total_attempts = total_attempts + 1").
		Where("id = ?", quizID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record quiz attempt: %w", err)
	}
	return requireRow(res, domain.ErrQuizNotFound)
}

func (t *submissionTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *submissionTx) Abort(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// mapInsertError turns foreign key violations on quiz_history into not-found errors.
func mapInsertError(err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == foreignKeyViolation {
		switch pgErr.Field('n') {
		case "quiz_history_user_id_fkey":
			return domain.ErrUserNotFound
		case "quiz_history_quiz_id_fkey":
			return domain.ErrQuizNotFound
		}
	}
	return fmt.Errorf("insert history: %w", err)
}
