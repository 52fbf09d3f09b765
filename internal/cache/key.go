package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/af-corp/refinery/internal/types"
)

// keyMaterial is the semantically relevant subset of a request. Which backend
// serves the request, routing hints, and tracking fields are deliberately
// excluded so a cached result can satisfy the request regardless of routing.
type keyMaterial struct {
	Schema  json.RawMessage   `json:"schema"`
	Samples []json.RawMessage `json:"samples"`
	Options map[string]string `json:"options"`
}

// Key derives the deterministic cache key for a request. encoding/json writes
// map keys in sorted order, so option ordering does not change the key.
func Key(req *types.RefineRequest) string {
	material := keyMaterial{
		Schema:  req.Schema,
		Samples: req.Samples,
		Options: req.Options,
	}
	data, err := json.Marshal(material)
	if err != nil {
		// RawMessage and string maps cannot fail to marshal; guard anyway.
		data = fallbackKeyMaterial(req)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// fallbackKeyMaterial concatenates the key fields into a fresh buffer with
// NUL separators. Options are walked in sorted order so the bytes stay
// deterministic. The request's slices are never written to.
func fallbackKeyMaterial(req *types.RefineRequest) []byte {
	size := len(req.Schema)
	for _, s := range req.Samples {
		size += len(s) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, req.Schema...)
	for _, s := range req.Samples {
		buf = append(buf, 0)
		buf = append(buf, s...)
	}

	keys := make([]string, 0, len(req.Options))
	for k := range req.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, 0)
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, req.Options[k]...)
	}
	return buf
}
