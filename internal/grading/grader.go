// Package grading scores a candidate's answers against a quiz definition.
//
// Grading is a pure function of its inputs. Score is the sum of points of the
// correctly answered questions, while Percentage is the share of correctly
// answered questions regardless of their weight.
package grading

import (
	"fmt"
	"strings"

	"quiz-assessment-service/internal/domain"
)

// Grade computes per-question correctness, the point total and pass status.
func Grade(quiz domain.Quiz, answers domain.AnswerSet) (domain.SubmissionResult, error) {
	if err := Validate(quiz); err != nil {
		return domain.SubmissionResult{}, err
	}

	result := domain.SubmissionResult{
		TotalQuestions: len(quiz.Questions),
		Answers:        make([]domain.QuestionResult, 0, len(quiz.Questions)),
	}
	for i, q := range quiz.Questions {
		answer := answers.At(i)
		correct, expected := check(q, answer)

		qr := domain.QuestionResult{
			QuestionID:    q.ID,
			Answer:        answer,
			IsCorrect:     correct,
			CorrectAnswer: expected,
			Explanation:   q.Explanation,
		}
		if correct {
			qr.PointsEarned = q.Points
			result.Score += q.Points
			result.CorrectCount++
		}
		result.MaxScore += q.Points
		result.Answers = append(result.Answers, qr)
	}

	result.Percentage = float64(result.CorrectCount) / float64(result.TotalQuestions) * 100
	result.Passed = result.Percentage >= quiz.PassingScore
	return result, nil
}

// Validate reports quiz definitions that cannot be graded.
func Validate(quiz domain.Quiz) error {
	if len(quiz.Questions) == 0 {
		return domain.NewValidationError("questions", "quiz has no questions")
	}
	if quiz.PassingScore < 0 || quiz.PassingScore > 100 {
		return domain.NewValidationError("passingScore", "must be between 0 and 100")
	}
	for i, q := range quiz.Questions {
		if q.Points < 0 {
			return domain.NewValidationError(fmt.Sprintf("questions[%d].points", i), "must not be negative")
		}
	}
	return nil
}

// check returns whether answer is correct for q and the expected answer text.
func check(q domain.Question, answer string) (bool, string) {
	switch q.Type {
	case domain.QuestionMCQ:
		expected, ok := correctOption(q)
		if !ok {
			return false, ""
		}
		return answer == expected, expected
	case domain.QuestionTrueFalse:
		return answer == q.CorrectAnswer, q.CorrectAnswer
	default:
		return normalize(answer) == normalize(q.CorrectAnswer), q.CorrectAnswer
	}
}

// correctOption picks the first option flagged correct. Quizzes flagging more
// than one option are treated as data errors and resolved to the first flag.
func correctOption(q domain.Question) (string, bool) {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt.Text, true
		}
	}
	if q.CorrectAnswer != "" {
		return q.CorrectAnswer, true
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
