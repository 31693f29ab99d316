package httpapi

import "net/http"

type limitsResponse struct {
	QueueLength int64          `json:"queue_length"`
	BucketFill  map[string]int `json:"bucket_fill"`
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	n, err := s.queueLength.QueueLength(r.Context())
	if err != nil {
		s.log.Error("queue length failed", "err", err)
		writeError(w, newError(Internal, "could not load queue length"))
		return
	}
	writeJSON(w, http.StatusOK, limitsResponse{
		QueueLength: n,
		BucketFill:  s.governor.Fill(),
	})
}
