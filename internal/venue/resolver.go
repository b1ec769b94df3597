package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"hyperbridge/pkg/types"
)

// Resolver maps a configured key address to the master trading account it
// signs for. Agent keys operate on their master's account for every read and
// write; signing still uses the agent key. Resolutions are cached for the
// process lifetime.
type Resolver struct {
	port   Port
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver creates a resolver over the given port.
func NewResolver(port Port, logger *slog.Logger) *Resolver {
	return &Resolver{
		port:   port,
		logger: logger.With("component", "account-resolver"),
		cache:  make(map[string]string),
	}
}

// Resolve returns the master account for a key address. An unknown role on a
// configured key is a ConfigurationError.
func (r *Resolver) Resolve(ctx context.Context, keyAddr string) (string, error) {
	r.mu.Lock()
	if master, ok := r.cache[keyAddr]; ok {
		r.mu.Unlock()
		return master, nil
	}
	r.mu.Unlock()

	role, err := r.port.UserRole(ctx, keyAddr)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", keyAddr, err)
	}

	var master string
	switch role.Kind {
	case types.RoleMaster:
		master = keyAddr
	case types.RoleAgent:
		if role.Master == "" {
			return "", &types.ConfigurationError{
				Reason: fmt.Sprintf("agent key %s reports no master account", keyAddr),
			}
		}
		master = role.Master
		r.logger.Info("agent key resolved", "agent", keyAddr, "master", master)
	default:
		return "", &types.ConfigurationError{
			Reason: fmt.Sprintf("key %s has unknown role on the venue", keyAddr),
		}
	}

	r.mu.Lock()
	r.cache[keyAddr] = master
	r.mu.Unlock()
	return master, nil
}
