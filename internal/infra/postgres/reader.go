package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-assessment-service/internal/domain"
)

// Reader serves history and stats reads over pgx.
type Reader struct {
	pool *pgxpool.Pool
}

func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{pool: pool}
}

const historyColumns = `id, user_id, quiz_id, answers, score, percentage, passed, time_taken, created_at`

// ListHistory returns one page and the user's total in a single pass using a window count.
func (r *Reader) ListHistory(ctx context.Context, userID string, offset, limit int) ([]domain.HistoryRecord, int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+historyColumns+`, COUNT(*) OVER() AS total
		FROM quiz_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	records := make([]domain.HistoryRecord, 0, limit)
	total := 0
	for rows.Next() {
		var (
			rec domain.HistoryRecord
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.QuizID, &raw, &rec.Score, &rec.Percentage,
			&rec.Passed, &rec.TimeTaken, &rec.CreatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Answers); err != nil {
			return nil, 0, fmt.Errorf("unmarshal answers: %w", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}

	// Past the last page the window count is not available.
	if len(records) == 0 && offset > 0 {
		if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quiz_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count history: %w", err)
		}
	}
	return records, total, nil
}

func (r *Reader) GetHistory(ctx context.Context, historyID string) (domain.HistoryRecord, error) {
	var (
		rec domain.HistoryRecord
		raw []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM quiz_history WHERE id = $1`, historyID).
		Scan(&rec.ID, &rec.UserID, &rec.QuizID, &raw, &rec.Score, &rec.Percentage, &rec.Passed, &rec.TimeTaken, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HistoryRecord{}, domain.ErrHistoryNotFound
	}
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("get history: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Answers); err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (r *Reader) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats := domain.UserStats{UserID: userID}
	var last *time.Time
	err := r.pool.QueryRow(ctx, `SELECT points, quizzes_taken, last_quiz_date FROM users WHERE id = $1`, userID).
		Scan(&stats.Points, &stats.QuizzesTaken, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	if last != nil {
		utc := last.UTC()
		stats.LastQuizDate = &utc
	}
	return stats, nil
}

func (r *Reader) QuizAnalytics(ctx context.Context, quizID string) (domain.QuizAnalytics, error) {
	analytics := domain.QuizAnalytics{QuizID: quizID}
	err := r.pool.QueryRow(ctx, `SELECT total_attempts, average_score FROM quizzes WHERE id = $1`, quizID).
		Scan(&analytics.TotalAttempts, &analytics.AverageScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizAnalytics{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizAnalytics{}, fmt.Errorf("quiz analytics: %w", err)
	}
	return analytics, nil
}
