package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MediaKindImage = "image"
	MediaKindAudio = "audio"
)

// MediaLog records one archived capture artifact and what the backend made of it.
type MediaLog struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind       string             `bson:"kind" json:"kind"` // image|audio
	Filename   string             `bson:"filename" json:"filename"`
	StoredPath string             `bson:"stored_path" json:"stored_path"`
	MimeType   string             `bson:"mime_type" json:"mime_type"`
	Size       int64              `bson:"size" json:"size"`

	Text        string   `bson:"text,omitempty" json:"text,omitempty"`
	RollNumbers []string `bson:"roll_numbers,omitempty" json:"roll_numbers,omitempty"`
	Count       *int     `bson:"count,omitempty" json:"count,omitempty"`

	Status           string    `bson:"status" json:"status"` // done|failed
	ProcessingTimeMS int64     `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
