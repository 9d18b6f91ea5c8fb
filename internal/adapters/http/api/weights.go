package api

import (
	"context"
	"net/http"

	"github.com/okian/veracity/internal/domain/reputation"
)

// WeightsDependencies defines the interface for weight queries.
type WeightsDependencies interface {
	Weights(ctx context.Context) ([]reputation.Weight, error)
}

// WeightsHandler handles weight requests.
type WeightsHandler struct {
	deps WeightsDependencies
}

// NewWeightsHandler creates a new weights handler.
func NewWeightsHandler(deps WeightsDependencies) *WeightsHandler {
	return &WeightsHandler{deps: deps}
}

type weightsResponse struct {
	Scale   int64               `json:"scale"`
	Weights []reputation.Weight `json:"weights"`
}

// HandleGetWeights handles GET /weights requests.
func (h *WeightsHandler) HandleGetWeights(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_weights"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	weights, err := h.deps.Weights(r.Context())
	if err != nil {
		writeKind(w, WrapKind(op, kindOf(err), err))
		return
	}
	if weights == nil {
		weights = []reputation.Weight{}
	}
	writeJSON(w, http.StatusOK, weightsResponse{Scale: reputation.Scale, Weights: weights})
}
