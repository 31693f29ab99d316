// Package task defines the transport- and storage-level shape of a single
// change operation moving through the pipeline: the Kind discriminator, the
// opaque Payload it carries, and the Status it occupies in the queue's
// state machine.
//
// Task intentionally carries no back-reference to the Job it was submitted
// as part of beyond JobID and Index — aggregation is jobs.Store's concern,
// not the queue's.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the upstream operation a Task performs. It is the
// "type" field of a batch operation as submitted by the client.
type Kind string

const (
	CreateNode  Kind = "create_node"
	UpdateCard  Kind = "update_card"
	CreateShape Kind = "create_shape"
	UpdateShape Kind = "update_shape"
	DeleteShape Kind = "delete_shape"
)

// Valid reports whether k is one of the known operation kinds.
func (k Kind) Valid() bool {
	switch k {
	case CreateNode, UpdateCard, CreateShape, UpdateShape, DeleteShape:
		return true
	default:
		return false
	}
}

// Status represents the current lifecycle state of a Task.
//
// The state machine is:
//
//	queued     -> processing
//	processing -> (row deleted, success)
//	processing -> queued        (retry)
//	processing -> (row moved to dead_letter_tasks, exhausted/permanent)
type Status uint8

const (
	Unknown Status = iota
	Queued
	Processing
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Processing:
		return "processing"
	default:
		return "unknown"
	}
}

// Task is a single change operation managed by the durable queue.
//
// Task snapshots returned by Queue methods represent authoritative storage
// state at the time of the call; mutating them directly does not affect
// the underlying queue. Transitions happen through Queue.Ack.
type Task struct {
	ID     int64
	UserID string
	Kind   Kind
	// Payload is the opaque, kind-specific request body. The pipeline
	// never interprets it beyond what Kind requires (board_id extraction
	// for the debounced cache refresh).
	Payload json.RawMessage

	JobID *uuid.UUID
	Index int

	Status    Status
	Attempts  uint32
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BoardID extracts the board_id carried by payloads of the shape-oriented
// kinds (CreateShape, UpdateShape, DeleteShape). It returns "" for kinds
// that carry no board association (CreateNode, UpdateCard) or if the
// payload cannot be parsed.
func (t *Task) BoardID() string {
	switch t.Kind {
	case CreateShape, UpdateShape, DeleteShape:
	default:
		return ""
	}
	var v struct {
		BoardID string `json:"board_id"`
	}
	if err := json.Unmarshal(t.Payload, &v); err != nil {
		return ""
	}
	return v.BoardID
}

// New constructs a Task ready for Queue.Enqueue. CreatedAt/UpdatedAt are
// left zero; the storage adapter stamps them on insert.
func New(userID string, kind Kind, payload json.RawMessage, jobID *uuid.UUID, index int) *Task {
	return &Task{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
		JobID:   jobID,
		Index:   index,
		Status:  Queued,
	}
}
