package wire

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TaskBatchVersion is the protocol version id stamped on every outbound task
// batch. The upstream service rejects batches with a stale version.
const TaskBatchVersion int64 = 9

// Task is one unit of a mutating command. Label is the numeric operation code
// defined by the upstream protocol; QueueName scopes FIFO ordering per logical
// target (usually per-thread); Payload is the double-encoded task body.
type Task struct {
	Label        int64  `json:"label"`
	Payload      string `json:"payload"`
	QueueName    string `json:"queue_name"`
	TaskID       int64  `json:"task_id"`
	FailureCount int    `json:"failure_count"`
}

// TaskBatch is the outbound envelope payload grouping one or more tasks with
// a dedup epoch id and the protocol version.
type TaskBatch struct {
	EpochID   int64  `json:"epoch_id"`
	Tasks     []Task `json:"tasks"`
	VersionID int64  `json:"version_id"`
}

// TaskAck is the response-topic payload acknowledging a task batch. The
// request id is echoed in the enclosing envelope; task ids are echoed here.
type TaskAck struct {
	TaskIDs   []int64 `json:"task_ids,omitempty"`
	Status    string  `json:"status,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	// NewToken is set when the server rotates the CSRF token.
	NewToken string `json:"new_token,omitempty"`
}

// NewEpochID generates a dedup key from the current millisecond timestamp and
// 22 bits of randomness, matching the upstream id scheme.
func NewEpochID(now time.Time) int64 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	random := int64(binary.BigEndian.Uint32(b[:])) & ((1 << 22) - 1)
	return now.UnixMilli()<<22 | random
}
