package model

import "time"

// EmbeddingCache is a persisted embedding keyed by content hash and model
// name, shared across documents that contain identical chunk text.
type EmbeddingCache struct {
	ContentHash string    `json:"content_hash"`
	Model       string    `json:"model"`
	TaskType    string    `json:"task_type"`
	Embedding   []float32 `json:"embedding"`
	CreatedAt   time.Time `json:"created_at"`
	HitCount    int64     `json:"hit_count"`
}
