package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
)

const (
	notificationsCollection = "notifications"
	queryTimeout            = 5 * time.Second
)

type notificationDoc struct {
	ID        string     `bson:"_id"`
	UserID    string     `bson:"user_id"`
	Kind      string     `bson:"kind"`
	Payload   []byte     `bson:"payload,omitempty"`
	IsRead    bool       `bson:"is_read"`
	ReadAt    *time.Time `bson:"read_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
}

func (d notificationDoc) toNotification() (*Notification, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("notification id %q: %w", d.ID, err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("notification user id %q: %w", d.UserID, err)
	}
	n := &Notification{
		ID:        id,
		UserID:    userID,
		Kind:      d.Kind,
		Payload:   d.Payload,
		IsRead:    d.IsRead,
		CreatedAt: d.CreatedAt,
	}
	if d.ReadAt != nil {
		n.ReadAt = sql.NullTime{Time: *d.ReadAt, Valid: true}
	}
	return n, nil
}

// MongoRepository stores notifications in a MongoDB collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates the document-store repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(notificationsCollection)}
}

// EnsureIndexes creates the per-user listing index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("notification indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, n *Notification) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := notificationDoc{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Kind:      n.Kind,
		Payload:   n.Payload,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return apperror.Store("create notification", err)
	}
	return nil
}

func (r *MongoRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, apperror.Store("list notifications", err)
	}
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode notifications", err)
	}

	out := make([]*Notification, 0, len(docs))
	for _, doc := range docs {
		n, err := doc.toNotification()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *MongoRepository) CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	count, err := r.coll.CountDocuments(ctx, bson.M{"user_id": userID.String(), "is_read": false})
	if err != nil {
		return 0, apperror.Store("count notifications", err)
	}
	return int(count), nil
}

func (r *MongoRepository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "user_id": userID.String()},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}},
	)
	if err != nil {
		return apperror.Store("mark notification read", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID.String(), "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": time.Now()}},
	)
	if err != nil {
		return apperror.Store("mark notifications read", err)
	}
	return nil
}

func (r *MongoRepository) DeleteOlderThan(ctx context.Context, readAge, anyAge time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	res, err := r.coll.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"is_read": true, "created_at": bson.M{"$lt": now.Add(-readAge)}},
		bson.M{"created_at": bson.M{"$lt": now.Add(-anyAge)}},
	}})
	if err != nil {
		return 0, apperror.Store("delete old notifications", err)
	}
	return res.DeletedCount, nil
}
