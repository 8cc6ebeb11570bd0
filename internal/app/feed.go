package app

import (
	"context"
	"errors"
	"sync"

	"quiz-assessment-service/internal/domain"
)

var errFeedsDisabled = errors.New("live analytics feed not configured")

// FeedRepository abstracts where live analytics feeds are tracked (in-memory, Redis, etc).
type FeedRepository interface {
	GetOrCreate(quizID string) *Feed
	Get(quizID string) (*Feed, bool)
	DeleteIfEmpty(quizID string)
}

// Subscribe returns a channel that receives analytics snapshots for a quiz,
// starting with the current one. The caller must invoke the returned cancel
// function to avoid leaks.
func (s *QuizService) Subscribe(ctx context.Context, quizID string) (<-chan domain.QuizAnalytics, func(), error) {
	if s.feeds == nil {
		return nil, nil, errFeedsDisabled
	}
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, nil, err
	}
	current, err := s.reads.QuizAnalytics(ctx, quizID)
	if err != nil {
		return nil, nil, err
	}

	for {
		feed := s.feeds.GetOrCreate(quizID)
		ch, cancel, ok := feed.subscribe(current)
		if !ok {
			// Lost a race with DeleteIfEmpty; the registry now holds a fresh feed.
			continue
		}
		return ch, func() {
			cancel()
			s.feeds.DeleteIfEmpty(quizID)
		}, nil
	}
}

// Feed fans analytics snapshots of one quiz out to its subscribers.
type Feed struct {
	quizID      string
	mu          sync.Mutex
	latest      domain.QuizAnalytics
	retired     bool
	subscribers map[chan domain.QuizAnalytics]struct{}
}

// NewFeed is exported for infrastructure layers that track feeds.
func NewFeed(quizID string) *Feed {
	return &Feed{
		quizID:      quizID,
		latest:      domain.QuizAnalytics{QuizID: quizID},
		subscribers: make(map[chan domain.QuizAnalytics]struct{}),
	}
}

// IsEmpty reports whether the feed has no subscribers.
func (f *Feed) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers) == 0
}

// Retire marks an empty feed as unusable so it can be dropped from a registry.
// It returns false when the feed still has subscribers.
func (f *Feed) Retire() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribers) > 0 {
		return false
	}
	f.retired = true
	return true
}

func (f *Feed) subscribe(current domain.QuizAnalytics) (<-chan domain.QuizAnalytics, func(), bool) {
	ch := make(chan domain.QuizAnalytics, 8)

	f.mu.Lock()
	if f.retired {
		f.mu.Unlock()
		return nil, nil, false
	}
	f.subscribers[ch] = struct{}{}
	if current.TotalAttempts >= f.latest.TotalAttempts {
		f.latest = current
	}
	// The buffer is empty, so this never blocks while holding the lock.
	ch <- f.latest
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel, true
}

// publish broadcasts a snapshot unless a newer one was already sent;
// concurrent submissions may read analytics out of order.
func (f *Feed) publish(a domain.QuizAnalytics) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if a.TotalAttempts < f.latest.TotalAttempts {
		return
	}
	f.latest = a
	for ch := range f.subscribers {
		select {
		case ch <- a:
		default:
			// Slow subscriber: drop its stale snapshot rather than block the publisher.
			select {
			case <-ch:
			default:
			}
			ch <- a
		}
	}
}
