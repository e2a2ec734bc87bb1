// Package ids centralizes id generation for the entities that flow through
// the pipeline: chunk_id, segment_id, task_id.
package ids

import "github.com/google/uuid"

func NewChunkID() string {
	return "chk_" + uuid.NewString()
}

func NewSegmentID() string {
	return "seg_" + uuid.NewString()
}

func NewTaskID() string {
	return "tsk_" + uuid.NewString()
}

func NewGroupID() string {
	return "grp_" + uuid.NewString()
}
