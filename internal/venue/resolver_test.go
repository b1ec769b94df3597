package venue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"hyperbridge/pkg/types"
)

// rolePort stubs only the role query; everything else is unused.
type rolePort struct {
	Port
	role  types.Role
	err   error
	calls atomic.Int64
}

func (p *rolePort) UserRole(context.Context, string) (types.Role, error) {
	p.calls.Add(1)
	return p.role, p.err
}

func TestResolveMasterKey(t *testing.T) {
	t.Parallel()

	port := &rolePort{role: types.Role{Kind: types.RoleMaster}}
	r := NewResolver(port, slog.New(slog.NewTextHandler(io.Discard, nil)))

	master, err := r.Resolve(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if master != "0xabc" {
		t.Errorf("master = %q, want the key itself", master)
	}
}

func TestResolveAgentKeyUsesMasterAndCaches(t *testing.T) {
	t.Parallel()

	port := &rolePort{role: types.Role{Kind: types.RoleAgent, Master: "0xmaster"}}
	r := NewResolver(port, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	master, err := r.Resolve(ctx, "0xagent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if master != "0xmaster" {
		t.Errorf("master = %q, want 0xmaster", master)
	}

	if _, err := r.Resolve(ctx, "0xagent"); err != nil {
		t.Fatalf("cached Resolve: %v", err)
	}
	if got := port.calls.Load(); got != 1 {
		t.Errorf("userRole queried %d times, want 1 (cached)", got)
	}
}

func TestResolveUnknownRoleIsConfigurationError(t *testing.T) {
	t.Parallel()

	port := &rolePort{role: types.Role{Kind: types.RoleUnknown}}
	r := NewResolver(port, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := r.Resolve(context.Background(), "0xkey")
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Resolve = %v, want ConfigurationError", err)
	}
}

func TestResolveAgentWithoutMasterIsConfigurationError(t *testing.T) {
	t.Parallel()

	port := &rolePort{role: types.Role{Kind: types.RoleAgent}}
	r := NewResolver(port, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := r.Resolve(context.Background(), "0xkey")
	var cfgErr *types.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Resolve = %v, want ConfigurationError", err)
	}
}
