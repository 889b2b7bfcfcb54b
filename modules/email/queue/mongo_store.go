package queue

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// DefaultCollection holds scheduled email rows in MongoDB
const DefaultCollection = "scheduled_emails"

// MongoStore persists scheduled emails in a MongoDB collection
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates the store and ensures its indexes
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string) (*MongoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("mongo store: database is not connected")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	s := &MongoStore{collection: db.Collection(collection)}
	if err := s.createIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			// startup recovery scans by status
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("status_created"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}},
			Options: options.Index().SetName("tenant_index"),
		},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create scheduled email indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Upsert(ctx context.Context, rec *models.ScheduledEmailRecord) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": rec.ID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled email %s: %w", rec.ID, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete scheduled email %s: %w", id, err)
	}
	return nil
}

func (s *MongoStore) LoadActive(ctx context.Context) ([]*models.ScheduledEmailRecord, error) {
	filter := bson.M{"status": bson.M{"$in": activeStatuses}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled emails: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.ScheduledEmailRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode scheduled emails: %w", err)
	}
	return out, nil
}

// Truncate drops every row; used by tests
func (s *MongoStore) Truncate(ctx context.Context) error {
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	return err
}
