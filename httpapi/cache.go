package httpapi

import (
	"net/http"
)

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	boardID := r.PathValue("board_id")
	entry, ok, err := s.cacheStore.Get(r.Context(), boardID)
	if err != nil {
		s.log.Error("cache get failed", "board_id", boardID, "err", err)
		writeError(w, newError(Internal, "could not load cache entry"))
		return
	}
	if !ok {
		writeError(w, newError(NotFound, "no cached snapshot for this board"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Value)
}
