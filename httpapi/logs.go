package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
)

type logEntry struct {
	Timestamp string            `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// handleLogs enforces the payload/count gates on client log ingestion.
// Entries exceeding either limit are rejected with 413 before any entry is
// persisted; ingestion beyond that gating is out of scope here.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	maxPayload := s.cfg.LogMaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = 1 << 20
	}
	maxEntries := s.cfg.LogMaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxPayload)+1))
	if err != nil {
		writeError(w, newError(BadRequest, "could not read request body"))
		return
	}
	if len(body) > maxPayload {
		writeError(w, newError(PayloadTooLarge, "log payload exceeds the configured limit"))
		return
	}

	var entries []logEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		writeError(w, newError(BadRequest, "malformed log entries"))
		return
	}
	if len(entries) > maxEntries {
		writeError(w, newError(PayloadTooLarge, "too many log entries"))
		return
	}

	s.log.Info("log entries received", "count", len(entries))
	w.WriteHeader(http.StatusAccepted)
}
