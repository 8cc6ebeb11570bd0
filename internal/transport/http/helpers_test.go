package http

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/infra/memory"
)

func newTestServer(t *testing.T, opts ...app.Option) (*httptest.Server, *app.QuizService) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewStore()
	require.NoError(t, store.PutUser(context.Background(), domain.User{ID: "u1", DisplayName: "Alice"}))
	quizzes := memory.NewQuizRepository(memory.NewQuizCatalog(sampleQuiz()), time.Minute)

	opts = append([]app.Option{app.WithLogger(log), app.WithFeeds(memory.NewFeedStore())}, opts...)
	service := app.NewQuizService(quizzes, store, store, opts...)

	router := NewRouter(NewRESTHandler(service, log), NewWSHandler(service, log), log, RouterConfig{RequestTimeout: 5 * time.Second})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, service
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
				Points:      10,
				Explanation: "Two pairs make four.",
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
