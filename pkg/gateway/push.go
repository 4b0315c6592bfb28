package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/cuemby/beacon/pkg/hub"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/types"
	"github.com/rs/zerolog"
)

// maxPushBody caps a push request body
const maxPushBody = 1 << 20

// PushResult is the response of the push endpoint
type PushResult struct {
	Accepted int          `json:"accepted"`
	Rejected []PushReject `json:"rejected,omitempty"`
}

// PushReject describes one record the push endpoint did not ingest
type PushReject struct {
	Index   int             `json:"index"`
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// PushHandler lets the backend deliver events directly instead of waiting
// for the next poll. It is disabled when no push token is configured.
type PushHandler struct {
	hub    *hub.Hub
	token  []byte
	logger zerolog.Logger
}

// NewPushHandler creates the POST /events handler
func NewPushHandler(h *hub.Hub, token string) *PushHandler {
	return &PushHandler{
		hub:    h,
		token:  []byte(token),
		logger: log.WithComponent("push"),
	}
}

func (p *PushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(p.token) == 0 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || auth[:7] != "Bearer " || subtle.ConstantTimeCompare([]byte(auth[7:]), p.token) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var records []types.PushRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&records); err != nil {
		http.Error(w, "body must be a JSON array of {topic, payload}", http.StatusBadRequest)
		return
	}

	result := PushResult{}
	for i, rec := range records {
		if len(rec.Payload) == 0 {
			result.Rejected = append(result.Rejected, PushReject{Index: i, Code: types.CodeBadRequest, Message: "missing payload"})
			continue
		}
		topic, err := types.ParseTopic(rec.Topic)
		if err == nil {
			_, err = p.hub.Publish(topic, rec.Payload)
		}
		if err != nil {
			result.Rejected = append(result.Rejected, PushReject{Index: i, Code: types.CodeFor(err), Message: err.Error()})
			continue
		}
		result.Accepted++
	}

	p.logger.Debug().
		Int("accepted", result.Accepted).
		Int("rejected", len(result.Rejected)).
		Msg("Push received")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
