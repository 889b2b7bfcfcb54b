package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/thenasky/mail-delivery/internal/logger"
)

const connectTimeout = 10 * time.Second

// ConnectMongoDB connects and pings, returning the named database
func ConnectMongoDB(ctx context.Context, uri, dbName string, log *slog.Logger) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("connected to MongoDB", logger.Scope("database"), slog.String("database", dbName))
	return client, client.Database(dbName), nil
}

// DisconnectMongoDB disconnects if connected
func DisconnectMongoDB(client *mongo.Client, log *slog.Logger) {
	if client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Disconnect(ctx); err != nil {
		log.Error("error disconnecting from MongoDB", logger.Scope("database"), logger.Err(err))
		return
	}
	log.Info("disconnected from MongoDB", logger.Scope("database"))
}
