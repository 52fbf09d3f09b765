package backend

import (
	"encoding/json"
	"fmt"

	"github.com/af-corp/refinery/internal/types"
)

// refineInstruction tells the completion model what to do and what shape to
// answer in. Both wire adapters send the same instruction so results stay
// interchangeable across backends.
const refineInstruction = `You improve data-validation schemas. Given a schema and sample documents, ` +
	`return a single JSON object with fields "schema" (the improved schema), ` +
	`"improvements" (array of {path, kind, description}) and "suggestions" ` +
	`(array of strings). Return only the JSON object.`

// refinePayload is the task envelope sent as the user message content.
type refinePayload struct {
	Schema  json.RawMessage   `json:"schema"`
	Samples []json.RawMessage `json:"samples,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

func buildPayload(req *types.RefineRequest) (string, error) {
	data, err := json.Marshal(refinePayload{
		Schema:  req.Schema,
		Samples: req.Samples,
		Options: req.Options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal refine payload: %w", err)
	}
	return string(data), nil
}

// refineReply is the JSON document the model is asked to produce.
type refineReply struct {
	Schema       json.RawMessage     `json:"schema"`
	Improvements []types.Improvement `json:"improvements"`
	Suggestions  []string            `json:"suggestions"`
}

// parseReply decodes the model's answer. The reply must be the bare JSON
// document the instruction asks for; malformed replies fail, nothing is
// repaired.
func parseReply(content string) (*types.RefineResult, error) {
	var reply refineReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("unmarshal refine reply: %w", err)
	}
	if len(reply.Schema) == 0 {
		return nil, fmt.Errorf("refine reply missing schema")
	}

	return &types.RefineResult{
		Schema:       reply.Schema,
		Improvements: reply.Improvements,
		Suggestions:  reply.Suggestions,
	}, nil
}
