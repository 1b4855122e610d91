package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo はMongoDBに接続し、timeout以内に疎通確認したクライアントを返す。
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// TutorialIndexes はtutorialsコレクションに作成するインデックス。
func TutorialIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("uniq_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created_at"),
		},
		{
			Keys:    bson.D{{Key: "is_approved", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_is_approved_created_at"),
		},
		{
			Keys:    bson.D{{Key: "video_sources.video_id", Value: 1}},
			Options: options.Index().SetName("idx_video_id").SetSparse(true),
		},
	}
}

// EnsureTutorialIndexes はtutorialsコレクションのインデックスを作成する。
// 同名・同定義のインデックスが既にある場合は何もしない。
func EnsureTutorialIndexes(ctx context.Context, coll *mongo.Collection) error {
	if _, err := coll.Indexes().CreateMany(ctx, TutorialIndexes()); err != nil {
		return fmt.Errorf("failed to create tutorial indexes: %w", err)
	}
	return nil
}
