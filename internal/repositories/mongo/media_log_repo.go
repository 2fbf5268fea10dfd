package mongo

import (
	"context"
	"time"

	"github.com/yoockh/smartattend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMediaLogTTL is how long archived media metadata is kept.
const DefaultMediaLogTTL = 30 * 24 * time.Hour

type MediaLogRepository interface {
	Insert(ctx context.Context, m *models.MediaLog) error
	ListRecent(ctx context.Context, kind string, limit int64) ([]models.MediaLog, error)
}

type mediaLogRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

func NewMediaLogRepo(db *mongo.Database) MediaLogRepository {
	return &mediaLogRepo{col: db.Collection("media_logs"), ttl: DefaultMediaLogTTL}
}

func (r *mediaLogRepo) Insert(ctx context.Context, m *models.MediaLog) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.ExpiresAt.IsZero() {
		m.ExpiresAt = m.Timestamp.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, m)
	return err
}

func (r *mediaLogRepo) ListRecent(ctx context.Context, kind string, limit int64) ([]models.MediaLog, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{}
	if kind != "" {
		filter["kind"] = kind
	}

	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.MediaLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
