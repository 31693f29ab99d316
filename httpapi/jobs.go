package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fenrick/MiroDiagramming/jobs"
)

type jobResponse struct {
	ID        uuid.UUID    `json:"id"`
	Status    jobs.Status  `json:"status"`
	Results   jobs.Results `json:"results"`
	UpdatedAt string       `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, newError(NotFound, "job not found"))
		return
	}

	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.log.Error("job get failed", "id", id, "err", err)
		writeError(w, newError(Internal, "could not load job"))
		return
	}
	if job == nil {
		writeError(w, newError(NotFound, "job not found"))
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		ID:        job.ID,
		Status:    job.Status,
		Results:   job.Results,
		UpdatedAt: job.UpdatedAt.Format(rfc3339Micro),
	})
}

const rfc3339Micro = "2006-01-02T15:04:05.000000Z07:00"
