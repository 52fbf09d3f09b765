package backend

import (
	"fmt"
	"net/http"
	"time"

	"github.com/af-corp/refinery/internal/config"
)

// newHTTPClient builds a per-backend client. MaxConcurrent caps the
// connection pool to that backend.
func newHTTPClient(cfg config.BackendConfig) *http.Client {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.MaxConcurrent > 0 {
		client.Transport = &http.Transport{
			MaxConnsPerHost:     cfg.MaxConcurrent,
			MaxIdleConns:        cfg.MaxConcurrent,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return client
}

// New builds an adapter from its configuration. The id is the registry key,
// taken from the backends file.
func New(id string, cfg config.BackendConfig, client *http.Client) (Adapter, error) {
	switch cfg.Type {
	case "chat":
		return NewChatAdapter(id, cfg, client), nil
	case "messages":
		return NewMessagesAdapter(id, cfg, client), nil
	case "static":
		return NewStaticAdapter(id, nil), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q for %s", cfg.Type, id)
	}
}
