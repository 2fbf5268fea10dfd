package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func EnsureMongoIndexes(dbName string) error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	if dbName == "" {
		dbName = "smartattend"
	}
	db := MongoClient.Database(dbName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// media_logs indexes
	logs := db.Collection("media_logs")
	_, err := logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// TTL index: expire at expires_at (must be Date)
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_kind_ts"),
		},
	})
	if err != nil {
		return err
	}

	// attendance_history indexes
	history := db.Collection("attendance_history")
	_, err = history.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "subject_id", Value: 1},
				{Key: "date_string", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("by_subject_date_ts"),
		},
		{
			Keys:    bson.D{{Key: "faculty_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("by_faculty_ts"),
		},
	})
	return err
}
