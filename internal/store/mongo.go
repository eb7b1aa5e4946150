package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
)

// SubmissionsCollection is the collection holding submissions
const SubmissionsCollection = "submissions"

// MongoStore is the MongoDB implementation of Store
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// Connect opens a MongoDB client and verifies it with a ping
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// NewMongoStore creates a store over db
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:   db.Collection(SubmissionsCollection),
		logger: logger,
	}
}

// EnsureIndexes creates the indexes used by claiming and reconciliation
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "status", Value: 1}, {Key: "reward_applied", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "status", Value: 1}, {Key: "claimed_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create submission indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, sub *verification.Submission) error {
	if sub.ID == "" {
		sub.ID = primitive.NewObjectID().Hex()
	}
	if sub.Status == "" {
		sub.Status = verification.StatusPending
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	if _, err := s.coll.InsertOne(ctx, sub); err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*verification.Submission, error) {
	var sub verification.Submission
	err := s.coll.FindOne(ctx, withID(id, bson.M{})).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission %s: %w", id, err)
	}
	return &sub, nil
}

// ClaimPending claims one document per FindOneAndUpdate so that concurrent claimers
// never receive the same submission.
func (s *MongoStore) ClaimPending(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	claimed := make([]*verification.Submission, 0, limit)
	for len(claimed) < limit {
		now := time.Now().UTC()
		var sub verification.Submission
		err := s.coll.FindOneAndUpdate(ctx,
			bson.M{"kind": kind, "status": verification.StatusPending},
			bson.M{"$set": bson.M{
				"status":     verification.StatusInProgress,
				"claimed_at": now,
				"updated_at": now,
			}},
			opts,
		).Decode(&sub)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("failed to claim %s submission: %w", kind, err)
		}
		claimed = append(claimed, &sub)
	}
	if len(claimed) > 0 {
		s.logger.Debug("Claimed submissions",
			zap.String("kind", string(kind)),
			zap.Int("count", len(claimed)))
	}
	return claimed, nil
}

func (s *MongoStore) Complete(ctx context.Context, id string, result *verification.VerificationResult, marketplaceStatus string) error {
	if result == nil || !result.FinalStatus.HasResult() {
		return fmt.Errorf("complete %s: result must carry a terminal status", id)
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":      result.FinalStatus,
		"result":      result,
		"verified_at": now,
		"updated_at":  now,
		"last_error":  "",
	}
	if marketplaceStatus != "" {
		set["marketplace_status"] = marketplaceStatus
	}

	res, err := s.coll.UpdateOne(ctx,
		withID(id, bson.M{"status": verification.StatusInProgress}),
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to complete submission %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

// Release uses an update pipeline so the attempt increment and the pending/failed
// decision happen in one document write.
func (s *MongoStore) Release(ctx context.Context, id string, cause string, maxAttempts int) (verification.Status, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "attempts", Value: bson.D{{Key: "$add", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$attempts", 0}}}, 1}}}},
			{Key: "last_error", Value: cause},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{"$attempts", maxAttempts}}},
				string(verification.StatusFailed),
				string(verification.StatusPending),
			}}}},
		}}},
		{{Key: "$unset", Value: "claimed_at"}},
	}

	var sub verification.Submission
	err := s.coll.FindOneAndUpdate(ctx,
		withID(id, bson.M{"status": verification.StatusInProgress}),
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", s.conflictOrMissing(ctx, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to release submission %s: %w", id, err)
	}
	return sub.Status, nil
}

func (s *MongoStore) Unclaim(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		withID(id, bson.M{"status": verification.StatusInProgress}),
		bson.M{
			"$set":   bson.M{"status": verification.StatusPending, "updated_at": time.Now().UTC()},
			"$unset": bson.M{"claimed_at": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to unclaim submission %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

// FindStale also returns in_progress documents without claimed_at, which can only
// have been left by an older writer.
func (s *MongoStore) FindStale(ctx context.Context, kind verification.Kind, cutoff time.Time, limit int) ([]*verification.Submission, error) {
	return s.find(ctx, bson.M{
		"kind":   kind,
		"status": verification.StatusInProgress,
		"$or": bson.A{
			bson.M{"claimed_at": bson.M{"$lt": cutoff}},
			bson.M{"claimed_at": bson.M{"$exists": false}},
		},
	}, limit)
}

func (s *MongoStore) MarkRewarded(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		withID(id, bson.M{"status": verification.StatusVerified}),
		bson.M{"$set": bson.M{"reward_applied": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s rewarded: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

func (s *MongoStore) FindUnrewarded(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	return s.find(ctx, bson.M{
		"kind":           kind,
		"status":         verification.StatusVerified,
		"reward_applied": bson.M{"$ne": true},
	}, limit)
}

func (s *MongoStore) MarkReviewRouted(ctx context.Context, id string) error {
	res, err := s.coll.UpdateOne(ctx,
		withID(id, bson.M{"status": verification.StatusNeedsReview}),
		bson.M{"$set": bson.M{"review_routed": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s routed: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

func (s *MongoStore) FindUnrouted(ctx context.Context, kind verification.Kind, limit int) ([]*verification.Submission, error) {
	return s.find(ctx, bson.M{
		"kind":          kind,
		"status":        verification.StatusNeedsReview,
		"review_routed": bson.M{"$ne": true},
	}, limit)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, limit int) ([]*verification.Submission, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []*verification.Submission
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode submissions: %w", err)
	}
	return subs, nil
}

func (s *MongoStore) CountByStatus(ctx context.Context, kind verification.Kind) (map[verification.Status]int64, error) {
	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "kind", Value: kind}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status verification.Status `bson:"_id"`
		Count  int64               `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode submission counts: %w", err)
	}

	counts := make(map[verification.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *MongoStore) conflictOrMissing(ctx context.Context, id string) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrStatusConflict, id, sub.Status)
}

// withID adds the id match to filter. Submissions created by other services carry
// ObjectID keys, which decode to their hex form; a hex id matches either
// representation.
func withID(id string, filter bson.M) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter["_id"] = bson.M{"$in": bson.A{id, oid}}
	} else {
		filter["_id"] = id
	}
	return filter
}
