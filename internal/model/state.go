package model

import "time"

// DocumentState is C1's own record of a document's last successfully ingested
// content, used to detect deltas on re-ingest.
type DocumentState struct {
	DocID            string            `json:"doc_id"`
	FileHash         string            `json:"file_hash"`
	ChunkHashes      []string          `json:"chunk_hashes"`
	ChunkIDs         []string          `json:"chunk_ids"`
	LastProcessedAt  time.Time         `json:"last_processed_at"`
	MetadataSnapshot map[string]string `json:"metadata_snapshot"`
}

// Segment is a coarse slice of a document dispatched to one worker by the
// parallel executor (C7).
type Segment struct {
	SegmentID   string
	DocID       string
	OrdinalBase int
	Text        string
	ByteStart   int
	ByteEnd     int
}
