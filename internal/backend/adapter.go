package backend

import (
	"context"

	"github.com/af-corp/refinery/internal/types"
)

// Adapter is the uniform contract every concrete backend implements.
// The orchestration layer only ever talks to a backend through this interface.
type Adapter interface {
	ID() string
	// Refine sends the request to the remote completion service and returns
	// a structured result. The context carries the request timeout.
	Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error)
	// HealthCheck reports whether the backend is currently reachable.
	HealthCheck(ctx context.Context) bool
}
