package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"quiz-assessment-service/internal/app"
	"quiz-assessment-service/internal/domain"
)

const (
	quizzesCollection = "quizzes"
	usersCollection   = "users"
	historyCollection = "quiz_history"
)

// Store keeps quizzes, users and history in MongoDB. Submissions commit in
// a multi-document transaction, which requires a replica set.
type Store struct {
	client  *mongo.Client
	quizzes *mongo.Collection
	users   *mongo.Collection
	history *mongo.Collection
}

func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:  client,
		quizzes: db.Collection(quizzesCollection),
		users:   db.Collection(usersCollection),
		history: db.Collection(historyCollection),
	}
}

// Connect dials the deployment and verifies it responds.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the history index used for paging.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

// Begin opens a unit of work whose writes are staged until Commit.
func (s *Store) Begin(ctx context.Context) (app.SubmissionTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &submissionTx{store: s}, nil
}

type quizDocument struct {
	domain.Quiz `bson:",inline"`
	Analytics   domain.QuizAnalytics `bson:"analytics"`
}

type userDocument struct {
	domain.User `bson:",inline"`
	Stats       domain.UserStats `bson:"stats"`
}

func (s *Store) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var doc quizDocument
	err := s.quizzes.FindOne(ctx, bson.M{"_id": quizID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return doc.Quiz, nil
}

// PutQuiz upserts a quiz definition, keeping its analytics.
func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	update := bson.M{
		"$set": bson.M{
			"title":        quiz.Title,
			"questions":    quiz.Questions,
			"passingScore": quiz.PassingScore,
		},
		"$setOnInsert": bson.M{
			"analytics": bson.M{"totalAttempts": 0, "averageScore": 0.0},
		},
	}
	_, err := s.quizzes.UpdateOne(ctx, bson.M{"_id": quiz.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put quiz %s: %w", quiz.ID, err)
	}
	return nil
}

// PutUser upserts a user, keeping its stats.
func (s *Store) PutUser(ctx context.Context, user domain.User) error {
	update := bson.M{
		"$set": bson.M{"displayName": user.DisplayName},
		"$setOnInsert": bson.M{
			"stats": bson.M{"points": 0, "quizzesTaken": 0},
		},
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": user.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put user %s: %w", user.ID, err)
	}
	return nil
}

type historyPage struct {
	Records []domain.HistoryRecord `bson:"records"`
	Total   []struct {
		Count int `bson:"count"`
	} `bson:"total"`
}

// ListHistory computes the page and the total in one aggregation using $facet.
func (s *Store) ListHistory(ctx context.Context, userID string, offset, limit int) ([]domain.HistoryRecord, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$facet", Value: bson.M{
			"records": bson.A{
				bson.M{"$skip": offset},
				bson.M{"$limit": limit},
			},
			"total": bson.A{
				bson.M{"$count": "count"},
			},
		}}},
	}
	cur, err := s.history.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer cur.Close(ctx)

	var pages []historyPage
	if err := cur.All(ctx, &pages); err != nil {
		return nil, 0, fmt.Errorf("decode history: %w", err)
	}
	if len(pages) == 0 {
		return []domain.HistoryRecord{}, 0, nil
	}
	page := pages[0]
	total := 0
	if len(page.Total) > 0 {
		total = page.Total[0].Count
	}
	records := page.Records
	if records == nil {
		records = []domain.HistoryRecord{}
	}
	for i := range records {
		records[i].CreatedAt = records[i].CreatedAt.UTC()
	}
	return records, total, nil
}

func (s *Store) GetHistory(ctx context.Context, historyID string) (domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	err := s.history.FindOne(ctx, bson.M{"_id": historyID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.HistoryRecord{}, domain.ErrHistoryNotFound
	}
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("get history: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	stats := doc.Stats
	stats.UserID = userID
	if stats.LastQuizDate != nil {
		utc := stats.LastQuizDate.UTC()
		stats.LastQuizDate = &utc
	}
	return stats, nil
}

func (s *Store) QuizAnalytics(ctx context.Context, quizID string) (domain.QuizAnalytics, error) {
	var doc struct {
		Analytics domain.QuizAnalytics `bson:"analytics"`
	}
	err := s.quizzes.FindOne(ctx, bson.M{"_id": quizID},
		options.FindOne().SetProjection(bson.M{"analytics": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.QuizAnalytics{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizAnalytics{}, fmt.Errorf("quiz analytics: %w", err)
	}
	analytics := doc.Analytics
	analytics.QuizID = quizID
	return analytics, nil
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

// submissionTx stages writes and applies them in one multi-document
// transaction on Commit. WithTransaction retries the whole body on transient
// errors such as write conflicts between concurrent submissions.
type submissionTx struct {
	store    *Store
	done     bool
	history  []*domain.HistoryRecord
	users    []userIncrement
	attempts []quizAttempt
}

var errTxDone = errors.New("unit of work already committed or aborted")

func (t *submissionTx) InsertHistory(ctx context.Context, record *domain.HistoryRecord) error {
	if t.done {
		return errTxDone
	}
	rec := *record
	t.history = append(t.history, &rec)
	return ctx.Err()
}

func (t *submissionTx) IncrementUserStats(ctx context.Context, userID string, points int, at time.Time) error {
	if t.done {
		return errTxDone
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

func (t *submissionTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	sess, err := t.store.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, t.apply(sc)
	}, txOpts)
	if err != nil {
		return err
	}
	t.done = true
	return nil
}

// Abort drops staged writes. A transaction that failed inside Commit has
// already been aborted by the driver.
func (t *submissionTx) Abort(context.Context) error {
	t.done = true
	t.history, t.users, t.attempts = nil, nil, nil
	return nil
}

func (t *submissionTx) apply(sc mongo.SessionContext) error {
	for _, rec := range t.history {
		if _, err := t.store.history.InsertOne(sc, rec); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	for _, inc := range t.users {
		if err := t.store.incrementUserStats(sc, inc); err != nil {
			return err
		}
	}
	for _, attempt := range t.attempts {
		if err := t.store.recordQuizAttempt(sc, attempt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) incrementUserStats(sc mongo.SessionContext, inc userIncrement) error {
	update := bson.M{
		"$inc": bson.M{"stats.points": inc.points, "stats.quizzesTaken": 1},
		"$set": bson.M{"stats.lastQuizDate": inc.at},
	}
	res, err := s.users.UpdateOne(sc, bson.M{"_id": inc.userID}, update)
	if err != nil {
		return fmt.Errorf("increment user stats: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// recordQuizAttempt folds the percentage into the running mean. All
// expressions of a single $set stage read the pre-update document.
func (s *Store) recordQuizAttempt(sc mongo.SessionContext, attempt quizAttempt) error {
	attempts := bson.M{"$ifNull": bson.A{"$analytics.totalAttempts", 0}}
	average := bson.M{"$ifNull": bson.A{"$analytics.averageScore", 0}}
	next := bson.M{"$add": bson.A{attempts, 1}}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"analytics.averageScore": bson.M{"$divide": bson.A{
				bson.M{"$add": bson.A{bson.M{"$multiply": bson.A{average, attempts}}, attempt.percentage}},
				next,
			}},
			"analytics.totalAttempts": next,
		}}},
	}
	res, err := s.quizzes.UpdateOne(sc, bson.M{"_id": attempt.quizID}, update)
	if err != nil {
		return fmt.Errorf("record quiz attempt: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}
