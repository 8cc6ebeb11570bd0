package domain

import "time"

// QuestionType selects the correctness policy used when grading a question.
type QuestionType string

const (
	QuestionMCQ         QuestionType = "mcq"
	QuestionTrueFalse   QuestionType = "true-false"
	QuestionShortAnswer QuestionType = "short-answer"
)

// Option represents a possible answer for a multiple-choice question.
type Option struct {
	Text      string `json:"text" bson:"text" yaml:"text"`
	IsCorrect bool   `json:"isCorrect" bson:"isCorrect" yaml:"isCorrect"`
}

// Question is a single gradable item of a quiz.
type Question struct {
	ID            string       `json:"id,omitempty" bson:"id,omitempty" yaml:"id"`
	Type          QuestionType `json:"type" bson:"type" yaml:"type"`
	Prompt        string       `json:"prompt" bson:"prompt" yaml:"prompt"`
	Options       []Option     `json:"options,omitempty" bson:"options,omitempty" yaml:"options"`
	CorrectAnswer string       `json:"correctAnswer,omitempty" bson:"correctAnswer,omitempty" yaml:"correctAnswer"`
	Points        int          `json:"points" bson:"points" yaml:"points"`
	Explanation   string       `json:"explanation,omitempty" bson:"explanation,omitempty" yaml:"explanation"`
}

// Quiz is the grading snapshot of a quiz definition.
type Quiz struct {
	ID           string     `json:"id" bson:"_id" yaml:"id"`
	Title        string     `json:"title" bson:"title" yaml:"title"`
	Questions    []Question `json:"questions" bson:"questions" yaml:"questions"`
	PassingScore float64    `json:"passingScore" bson:"passingScore" yaml:"passingScore"`
}

// AnswerSet is positionally aligned with a quiz's questions.
// Missing trailing entries are graded as incorrect.
type AnswerSet []string

// At returns the answer for question i, or "" when absent.
func (a AnswerSet) At(i int) string {
	if i < 0 || i >= len(a) {
		return ""
	}
	return a[i]
}

// QuestionResult is the per-question breakdown of a graded submission.
type QuestionResult struct {
	QuestionID    string `json:"questionId,omitempty" bson:"questionId,omitempty"`
	Answer        string `json:"answer" bson:"answer"`
	IsCorrect     bool   `json:"isCorrect" bson:"isCorrect"`
	PointsEarned  int    `json:"pointsEarned" bson:"pointsEarned"`
	CorrectAnswer string `json:"correctAnswer" bson:"correctAnswer"`
	Explanation   string `json:"explanation,omitempty" bson:"explanation,omitempty"`
}

// SubmissionResult is derived from grading and never persisted on its own.
// Score is point-weighted while Percentage counts correct answers.
type SubmissionResult struct {
	Score          int              `json:"score"`
	MaxScore       int              `json:"maxScore"`
	CorrectCount   int              `json:"correctCount"`
	TotalQuestions int              `json:"totalQuestions"`
	Percentage     float64          `json:"percentage"`
	Passed         bool             `json:"passed"`
	Answers        []QuestionResult `json:"answers"`
}

// HistoryRecord is an append-only record of one submission by a user.
type HistoryRecord struct {
	ID         string           `json:"id" bson:"_id"`
	UserID     string           `json:"userId" bson:"userId"`
	QuizID     string           `json:"quizId" bson:"quizId"`
	Answers    []QuestionResult `json:"answers" bson:"answers"`
	Score      int              `json:"score" bson:"score"`
	Percentage float64          `json:"percentage" bson:"percentage"`
	Passed     bool             `json:"passed" bson:"passed"`
	TimeTaken  int              `json:"timeTaken" bson:"timeTaken"`
	CreatedAt  time.Time        `json:"createdAt" bson:"createdAt"`
}

// HistoryView is a history record with explanation visibility computed at read time.
type HistoryView struct {
	HistoryRecord
	ExplanationsUnlocked bool      `json:"explanationsUnlocked"`
	ExplanationsUnlockAt time.Time `json:"explanationsUnlockAt"`
}

// HistoryPage is one page of a user's history, newest first.
type HistoryPage struct {
	Records  []HistoryView `json:"records"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// SubmissionSummary is returned to the caller of a successful submission.
type SubmissionSummary struct {
	HistoryID  string  `json:"historyId"`
	Score      int     `json:"score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
}

// User is the seedable user entity; only its stats are mutated by submissions.
type User struct {
	ID          string `json:"id" bson:"_id" yaml:"id"`
	DisplayName string `json:"displayName" bson:"displayName" yaml:"displayName"`
}

// UserStats are the cumulative counters embedded in a user.
type UserStats struct {
	UserID       string     `json:"userId" bson:"-"`
	Points       int        `json:"points" bson:"points"`
	QuizzesTaken int        `json:"quizzesTaken" bson:"quizzesTaken"`
	LastQuizDate *time.Time `json:"lastQuizDate,omitempty" bson:"lastQuizDate,omitempty"`
}

// QuizAnalytics are the rolling aggregates embedded in a quiz.
type QuizAnalytics struct {
	QuizID        string  `json:"quizId" bson:"-"`
	TotalAttempts int     `json:"totalAttempts" bson:"totalAttempts"`
	AverageScore  float64 `json:"averageScore" bson:"averageScore"`
}

// Record folds one more percentage into the running mean.
func (a QuizAnalytics) Record(percentage float64) QuizAnalytics {
	n := a.TotalAttempts + 1
	a.AverageScore = (a.AverageScore*float64(n-1) + percentage) / float64(n)
	a.TotalAttempts = n
	return a
}
