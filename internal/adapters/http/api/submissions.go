package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/veracity/internal/domain/model"
)

const maxSubmissionBytes = 8 << 20

// SubmissionDependencies defines the interface for submission intake.
type SubmissionDependencies interface {
	Submit(ctx context.Context, sub model.Submission) (model.Ack, error)
}

// SubmissionsHandler handles submission requests.
type SubmissionsHandler struct {
	deps SubmissionDependencies
}

// NewSubmissionsHandler creates a new submissions handler.
func NewSubmissionsHandler(deps SubmissionDependencies) *SubmissionsHandler {
	return &SubmissionsHandler{deps: deps}
}

type submissionResponse struct {
	Status string `json:"status"`
	model.Ack
}

// HandlePostSubmission handles POST /submissions requests. The receipt time
// is always the server's.
func (h *SubmissionsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_submission"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var sub model.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes)).Decode(&sub); err != nil {
		writeKind(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	sub.ReceivedAt = time.Time{}

	ack, err := h.deps.Submit(r.Context(), sub)
	if err != nil {
		writeKind(w, WrapKind(op, kindOf(err), err))
		return
	}
	if ack.Duplicate {
		writeJSON(w, http.StatusOK, submissionResponse{Status: "duplicate", Ack: ack})
		return
	}
	writeJSON(w, http.StatusAccepted, submissionResponse{Status: "accepted", Ack: ack})
}
