package model

import "time"

// FileType is the coarse document category the analyzer classifies input into.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeDOCX  FileType = "docx"
	FileTypeMD    FileType = "md"
	FileTypeTXT   FileType = "txt"
	FileTypeCode  FileType = "code"
	FileTypeHTML  FileType = "html"
	FileTypeTable FileType = "table"
	FileTypeOther FileType = "other"
)

// DocumentStatus tracks a document's position in the ingestion lifecycle.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusPartial    DocumentStatus = "partial"
	DocumentStatusFailed     DocumentStatus = "failed"
	DocumentStatusCanceling  DocumentStatus = "canceling"
	DocumentStatusCanceled   DocumentStatus = "canceled"
)

// Document is the top-level record for a source document tracked by the core.
type Document struct {
	DocID           string            `json:"doc_id"`
	SourcePath      string            `json:"source_path"`
	FileType        FileType          `json:"file_type"`
	Metadata        map[string]string `json:"metadata"`
	Status          DocumentStatus    `json:"status"`
	SizeBytes       int64             `json:"size_bytes"`
	NodeCount       int               `json:"node_count"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	Error           string            `json:"error,omitempty"`
}
