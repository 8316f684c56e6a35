// Package tenant resolves municipalities from their id or widget domain.
package tenant

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/54b3r/primaria-go/internal/domain"
)

// Registry is an in-memory set of tenants loaded from configuration. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	byID     map[string]domain.Tenant
	byDomain map[string]string
}

// NewRegistry builds a registry from tenants. IDs and domains must be unique.
func NewRegistry(tenants []domain.Tenant) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]domain.Tenant, len(tenants)),
		byDomain: make(map[string]string, len(tenants)),
	}
	for _, t := range tenants {
		if err := r.add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(t domain.Tenant) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("tenant: %w: empty id", domain.ErrInvalidInput)
	}
	if _, ok := r.byID[t.ID]; ok {
		return fmt.Errorf("tenant: duplicate id %q", t.ID)
	}
	if d := canonicalDomain(t.Domain); d != "" {
		if other, ok := r.byDomain[d]; ok {
			return fmt.Errorf("tenant: domain %q used by %q and %q", d, other, t.ID)
		}
		r.byDomain[d] = t.ID
		t.Domain = d
	}
	r.byID[t.ID] = t
	return nil
}

// Get returns the active tenant with the given id.
func (r *Registry) Get(_ context.Context, id string) (domain.Tenant, error) {
	t, ok := r.byID[strings.TrimSpace(id)]
	if !ok || !t.Active {
		return domain.Tenant{}, fmt.Errorf("tenant %q: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// Resolve maps a selector onto an active tenant. ID takes precedence over
// domain.
func (r *Registry) Resolve(ctx context.Context, sel domain.Selector) (domain.Tenant, error) {
	if sel.IsZero() {
		return domain.Tenant{}, fmt.Errorf("tenant: %w: empty selector", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(sel.ID) != "" {
		return r.Get(ctx, sel.ID)
	}
	id, ok := r.byDomain[canonicalDomain(sel.Domain)]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant %s: %w", sel, domain.ErrNotFound)
	}
	return r.Get(ctx, id)
}

// List returns the active tenants ordered by name.
func (r *Registry) List(context.Context) []domain.Tenant {
	out := make([]domain.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		if t.Active {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.Tenant) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// canonicalDomain lowercases d and strips a scheme, a "www." prefix, a port
// and any path, so "https://www.PMB.ro/contact" resolves like "pmb.ro".
func canonicalDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}
