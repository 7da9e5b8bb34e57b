package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	_ repository.NotificationRepository = (*NotificationRepo)(nil)
	_ repository.AttemptRepository      = (*AttemptRepo)(nil)
	_ repository.TemplateRepository     = (*TemplateRepo)(nil)
)

// EnsureIndexes creates the unique indexes the repositories rely on.
// It is safe to call on every start.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		notificationsCollection: {
			{
				Keys:    bson.D{{Key: "idempotencyKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_idempotency_key"),
			},
			{
				Keys:    bson.D{{Key: "correlationId", Value: 1}},
				Options: options.Index().SetName("idx_correlation_id"),
			},
		},
		attemptsCollection: {
			{
				Keys:    bson.D{{Key: "notificationId", Value: 1}, {Key: "attemptNo", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_notification_attempt_no"),
			},
		},
		templatesCollection: {
			{
				Keys:    bson.D{{Key: "key", Value: 1}, {Key: "channel", Value: 1}, {Key: "language", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_template_key_channel_language"),
			},
		},
	}

	for collection, models := range indexes {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %q: %w", collection, err)
		}
	}
	return nil
}

type NotificationRepo struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewNotificationRepo(db *mongo.Database) *NotificationRepo {
	return &NotificationRepo{
		collection: db.Collection(notificationsCollection),
		now:        time.Now,
	}
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	now := r.now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, notificationToDocument(n)); err != nil {
		return translateError(err)
	}
	return nil
}

func (r *NotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *NotificationRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Notification, error) {
	return r.findOne(ctx, bson.D{{Key: "idempotencyKey", Value: idempotencyKey}})
}

func (r *NotificationRepo) findOne(ctx context.Context, filter bson.D) (*domain.Notification, error) {
	var doc notificationDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translateError(err)
	}
	return notificationFromDocument(doc), nil
}

// Save replaces the mutable fields of n guarded by its version.
func (r *NotificationRepo) Save(ctx context.Context, n *domain.Notification) error {
	now := r.now().UTC()
	filter, update := saveFilterAndUpdate(n, now)

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return translateError(err)
	}
	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: n.ID}})
		if err != nil {
			return translateError(err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}

	n.Version++
	n.UpdatedAt = now
	return nil
}

func saveFilterAndUpdate(n *domain.Notification, now time.Time) (bson.D, bson.D) {
	filter := bson.D{
		{Key: "_id", Value: n.ID},
		{Key: "version", Value: n.Version},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: n.Status.String()},
			{Key: "attemptCount", Value: n.AttemptCount},
			{Key: "nextAttemptAt", Value: n.NextAttemptAt},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	return filter, update
}

type AttemptRepo struct {
	collection *mongo.Collection
}

func NewAttemptRepo(db *mongo.Database) *AttemptRepo {
	return &AttemptRepo{collection: db.Collection(attemptsCollection)}
}

func (r *AttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := r.collection.InsertOne(ctx, attemptToDocument(a)); err != nil {
		return translateError(err)
	}
	return nil
}

func (r *AttemptRepo) ListByNotificationID(ctx context.Context, notificationID string) ([]domain.Attempt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "attemptNo", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.D{{Key: "notificationId", Value: notificationID}}, opts)
	if err != nil {
		return nil, translateError(err)
	}

	var docs []attemptDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateError(err)
	}

	attempts := make([]domain.Attempt, 0, len(docs))
	for _, doc := range docs {
		attempts = append(attempts, attemptFromDocument(doc))
	}
	return attempts, nil
}

type TemplateRepo struct {
	collection *mongo.Collection
}

func NewTemplateRepo(db *mongo.Database) *TemplateRepo {
	return &TemplateRepo{collection: db.Collection(templatesCollection)}
}

func (r *TemplateRepo) Find(ctx context.Context, key string, channel domain.Channel, language string) (*domain.Template, error) {
	filter := bson.D{
		{Key: "key", Value: key},
		{Key: "channel", Value: channel.String()},
		{Key: "language", Value: language},
	}

	var doc templateDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s/%s/%s", domain.ErrTemplateNotFound, key, channel, language)
	}
	if err != nil {
		return nil, err
	}
	return templateFromDocument(doc), nil
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", domain.ErrDuplicateKey, err)
	}
	return err
}
