package backend

import (
	"context"

	"github.com/af-corp/refinery/internal/types"
)

// StaticAdapter returns the request schema unchanged with a canned
// improvement list. It backs local development and smoke tests without a
// remote service.
type StaticAdapter struct {
	id          string
	suggestions []string
}

func NewStaticAdapter(id string, suggestions []string) *StaticAdapter {
	if len(suggestions) == 0 {
		suggestions = []string{"schema accepted without changes"}
	}
	return &StaticAdapter{id: id, suggestions: suggestions}
}

func (a *StaticAdapter) ID() string { return a.id }

func (a *StaticAdapter) Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.RefineResult{
		Schema:       req.Schema,
		Improvements: []types.Improvement{},
		Suggestions:  a.suggestions,
		OutputUnits:  req.EstimatedOutputUnits,
	}, nil
}

func (a *StaticAdapter) HealthCheck(ctx context.Context) bool { return true }
