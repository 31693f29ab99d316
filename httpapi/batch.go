package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/fenrick/MiroDiagramming/task"
)

// maxBatchDefault is used if Config.MaxBatchSize is left at zero.
const maxBatchDefault = 500

type batchOperation struct {
	Type task.Kind `json:"type"`
}

type batchRequest struct {
	Operations []json.RawMessage `json:"operations"`
}

type batchResponse struct {
	JobID    uuid.UUID `json:"job_id"`
	Enqueued int       `json:"enqueued"`
}

// handleBatch accepts a batch of operations, creates a Job aggregate for
// it, and enqueues one Task per operation. A repeat request carrying the
// same Idempotency-Key replays the first successful response byte-for-byte
// rather than resubmitting the batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	userID := r.Header.Get("X-User-Id")

	if idempotencyKey != "" && s.idempotency != nil {
		if entry, ok, err := s.idempotency.Lookup(r.Context(), idempotencyKey); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write(entry.Response)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, newError(BadRequest, "could not read request body"))
		return
	}

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, newError(BadRequest, "malformed batch body"))
		return
	}

	maxBatch := s.cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = maxBatchDefault
	}
	if len(req.Operations) > maxBatch {
		writeError(w, newError(Unprocessable, "batch exceeds maximum size"))
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, newError(Unprocessable, "batch must contain at least one operation"))
		return
	}

	for _, raw := range req.Operations {
		var op batchOperation
		if err := json.Unmarshal(raw, &op); err != nil || !op.Type.Valid() {
			writeError(w, newError(Unprocessable, "operation has an unknown or missing type"))
			return
		}
	}

	ctx := r.Context()
	job, err := s.jobs.Create(ctx, len(req.Operations))
	if err != nil {
		s.log.Error("job create failed", "err", err)
		writeError(w, newError(Internal, "could not create job"))
		return
	}

	for i, raw := range req.Operations {
		var op batchOperation
		_ = json.Unmarshal(raw, &op)
		jobID := job.ID
		t := task.New(userID, op.Type, raw, &jobID, i)
		if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
			s.log.Error("enqueue failed", "job_id", job.ID, "index", i, "err", err)
		}
	}

	resp := batchResponse{JobID: job.ID, Enqueued: len(req.Operations)}
	encoded, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("response encode failed", "err", err)
		writeError(w, newError(Internal, "could not encode response"))
		return
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Store(ctx, idempotencyKey, encoded); err != nil {
			s.log.Error("idempotency store failed", "key", idempotencyKey, "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(encoded)
}
