package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
)

type webhookEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

// handleWebhook verifies the X-Miro-Signature HMAC before touching the
// body at all: a bad signature returns 401 without ever parsing the
// payload, matching the boundary behavior this system must preserve.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("X-Miro-Signature")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, newError(BadRequest, "could not read request body"))
		return
	}

	if signature == "" || s.cfg.WebhookSecret == "" || !validSignature(s.cfg.WebhookSecret, body, signature) {
		writeError(w, newError(Unauthorized, "invalid signature"))
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, newError(BadRequest, "invalid payload"))
		return
	}

	s.log.Info("webhook received", "events", len(payload.Events))
	w.WriteHeader(http.StatusAccepted)
}

func validSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
