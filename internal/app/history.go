package app

import (
	"context"
	"math"
	"time"

	"quiz-assessment-service/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	// maxPage keeps (page-1)*pageSize from overflowing.
	maxPage = math.MaxInt / maxPageSize
)

// History returns one page of the user's submissions, newest first.
func (s *QuizService) History(ctx context.Context, userID string, page, pageSize int) (domain.HistoryPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	records, total, err := s.reads.ListHistory(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return domain.HistoryPage{}, err
	}

	now := s.now()
	views := make([]domain.HistoryView, 0, len(records))
	for _, record := range records {
		views = append(views, s.reveal(record, now))
	}
	return domain.HistoryPage{
		Records:  views,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// HistoryRecord returns a single submission owned by userID.
func (s *QuizService) HistoryRecord(ctx context.Context, userID, historyID string) (domain.HistoryView, error) {
	record, err := s.reads.GetHistory(ctx, historyID)
	if err != nil {
		return domain.HistoryView{}, err
	}
	if record.UserID != userID {
		return domain.HistoryView{}, domain.ErrHistoryNotFound
	}
	return s.reveal(record, s.now()), nil
}

// UserStats returns the user's cumulative counters.
func (s *QuizService) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	return s.reads.UserStats(ctx, userID)
}

// QuizAnalytics returns the quiz's rolling aggregates.
func (s *QuizService) QuizAnalytics(ctx context.Context, quizID string) (domain.QuizAnalytics, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.QuizAnalytics{}, err
	}
	return s.reads.QuizAnalytics(ctx, quizID)
}

// reveal computes explanation visibility. Locked records get a copy of their
// answers with explanations blanked; the stored record is never touched.
func (s *QuizService) reveal(record domain.HistoryRecord, now time.Time) domain.HistoryView {
	unlockAt := record.CreatedAt.Add(s.explanationLock)
	view := domain.HistoryView{
		HistoryRecord:        record,
		ExplanationsUnlockAt: unlockAt,
		ExplanationsUnlocked: !now.Before(unlockAt),
	}
	if view.ExplanationsUnlocked {
		return view
	}

	answers := make([]domain.QuestionResult, len(record.Answers))
	copy(answers, record.Answers)
	for i := range answers {
		answers[i].Explanation = ""
	}
	view.Answers = answers
	return view
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	} else if page > maxPage {
		page = maxPage
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	} else if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
