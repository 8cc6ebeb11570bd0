package redis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quiz-assessment-service/internal/app"
)

// FeedStore is a Redis-aware implementation of app.FeedRepository.
// Feeds themselves live in process so the in-memory fan-out is reused;
// Redis only records which instances have live viewers for a quiz
// (quiz:feed:{quizID}:{instanceID}, refreshed with a TTL so crashed instances age out).
type FeedStore struct {
	client   *redis.Client
	ttl      time.Duration
	log      logrus.FieldLogger
	instance string
	now      func() time.Time

	mu      sync.Mutex
	feeds   map[string]*app.Feed
	touched map[string]time.Time
}

func NewFeedStore(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *FeedStore {
	return &FeedStore{
		client:   client,
		ttl:      ttl,
		log:      log,
		instance: uuid.NewString(),
		now:      time.Now,
		feeds:    make(map[string]*app.Feed),
		touched:  make(map[string]time.Time),
	}
}

func (s *FeedStore) GetOrCreate(quizID string) *app.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[quizID]
	if !ok {
		feed = app.NewFeed(quizID)
		s.feeds[quizID] = feed
	}
	s.touch(quizID)
	return feed
}

// Get is called on every publish, so it also keeps the marker of an
// active feed from expiring.
func (s *FeedStore) Get(quizID string) (*app.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[quizID]
	if ok && s.stale(quizID) {
		s.touch(quizID)
	}
	return feed, ok
}

func (s *FeedStore) DeleteIfEmpty(quizID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	feed, ok := s.feeds[quizID]
	if !ok {
		return
	}
	if feed.Retire() {
		delete(s.feeds, quizID)
		delete(s.touched, quizID)
		if err := s.client.Del(context.Background(), s.key(quizID)).Err(); err != nil {
			s.log.WithError(err).WithField("quiz_id", quizID).Warn("clear feed marker failed")
		}
	}
}

// stale reports whether half the marker TTL has passed since the last refresh.
func (s *FeedStore) stale(quizID string) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(s.touched[quizID]) >= s.ttl/2
}

// best-effort liveness marker; caller holds mu
func (s *FeedStore) touch(quizID string) {
	s.touched[quizID] = s.now()
	if err := s.client.Set(context.Background(), s.key(quizID), s.instance, s.ttl).Err(); err != nil {
		s.log.WithError(err).WithField("quiz_id", quizID).Warn("set feed marker failed")
	}
}

func (s *FeedStore) key(quizID string) string {
	return "quiz:feed:" + quizID + ":" + s.instance
}
