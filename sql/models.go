package sql

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/fenrick/MiroDiagramming/cache"
	"github.com/fenrick/MiroDiagramming/idempotency"
	"github.com/fenrick/MiroDiagramming/jobs"
	"github.com/fenrick/MiroDiagramming/task"
	"github.com/fenrick/MiroDiagramming/tokenauth"
)

type taskModel struct {
	bun.BaseModel `bun:"table:queue_tasks"`
	ID            int64 `bun:"id,pk,autoincrement"`

	UserID  string `bun:"user_id,notnull"`
	Kind    string `bun:"kind,notnull"`
	Payload []byte `bun:"payload,type:blob,notnull"`

	JobID *uuid.UUID `bun:"job_id,type:uuid,nullzero"`
	Index int        `bun:"op_index,notnull,default:0"`

	Status    uint8      `bun:"status,notnull,default:1"`
	Attempts  uint32     `bun:"attempts,notnull,default:0"`
	ClaimedAt *time.Time `bun:"claimed_at,nullzero"`
	NextRunAt time.Time  `bun:"next_run_at,notnull"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (m *taskModel) toTask() *task.Task {
	return &task.Task{
		ID:        m.ID,
		UserID:    m.UserID,
		Kind:      task.Kind(m.Kind),
		Payload:   m.Payload,
		JobID:     m.JobID,
		Index:     m.Index,
		Status:    task.Status(m.Status),
		Attempts:  m.Attempts,
		ClaimedAt: m.ClaimedAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fromTask(t *task.Task) *taskModel {
	now := time.Now()
	return &taskModel{
		UserID:    t.UserID,
		Kind:      string(t.Kind),
		Payload:   t.Payload,
		JobID:     t.JobID,
		Index:     t.Index,
		Status:    uint8(task.Queued),
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type deadLetterModel struct {
	bun.BaseModel `bun:"table:dead_letter_tasks"`
	ID            int64 `bun:"id,pk,autoincrement"`

	UserID  string `bun:"user_id,notnull"`
	Kind    string `bun:"kind,notnull"`
	Payload []byte `bun:"payload,type:blob,notnull"`

	JobID *uuid.UUID `bun:"job_id,type:uuid,nullzero"`
	Index int        `bun:"op_index,notnull,default:0"`

	Attempts  uint32    `bun:"attempts,notnull,default:0"`
	Error     string    `bun:"error,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func fromDeadLetter(d *task.DeadLetter) *deadLetterModel {
	return &deadLetterModel{
		UserID:   d.UserID,
		Kind:     string(d.Kind),
		Payload:  d.Payload,
		JobID:    d.JobID,
		Index:    d.Index,
		Attempts: d.Attempts,
		Error:    d.Error,
	}
}

type idempotencyModel struct {
	bun.BaseModel `bun:"table:idempotency"`
	Key           string    `bun:"key,pk"`
	Response      []byte    `bun:"response,type:blob,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (m *idempotencyModel) toEntry() *idempotency.Entry {
	return &idempotency.Entry{Key: m.Key, Response: m.Response, CreatedAt: m.CreatedAt}
}

type jobModel struct {
	bun.BaseModel `bun:"table:jobs"`
	ID            uuid.UUID `bun:"id,pk,type:uuid"`

	Status     string `bun:"status,notnull"`
	Total      int    `bun:"total,notnull"`
	Operations []byte `bun:"operations,type:jsonb,notnull,default:'[]'"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type userModel struct {
	bun.BaseModel `bun:"table:users"`
	ID            string `bun:"id,pk"`

	SealedAccessToken  string    `bun:"access_token,notnull"`
	SealedRefreshToken string    `bun:"refresh_token,notnull"`
	ExpiresAt          time.Time `bun:"expires_at,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (m *userModel) toUser() *tokenauth.User {
	return &tokenauth.User{
		ID:                 m.ID,
		SealedAccessToken:  m.SealedAccessToken,
		SealedRefreshToken: m.SealedRefreshToken,
		ExpiresAt:          m.ExpiresAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func fromUser(u *tokenauth.User) *userModel {
	return &userModel{
		ID:                 u.ID,
		SealedAccessToken:  u.SealedAccessToken,
		SealedRefreshToken: u.SealedRefreshToken,
		ExpiresAt:          u.ExpiresAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

type cacheModel struct {
	bun.BaseModel `bun:"table:cache_entries"`
	BoardID       string    `bun:"board_id,pk"`
	Value         []byte    `bun:"value,type:jsonb,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (m *cacheModel) toEntry() *cache.Entry {
	return &cache.Entry{BoardID: m.BoardID, Value: m.Value, CreatedAt: m.CreatedAt}
}
