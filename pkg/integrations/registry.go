package integrations

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Registry holds one [Client] per configured upstream. Clients never share
// a cache or a rate limiter.
type Registry struct {
	clients map[string]*Client
	names   []string
}

// NewRegistry builds a client for every entry in cfgs, keyed by upstream
// name. The map key wins over Config.Name. The same opts are applied to
// every client. If any client fails to build, those already built are
// closed and the error is returned.
func NewRegistry(cfgs map[string]Config, opts ...Option) (*Registry, error) {
	r := &Registry{clients: make(map[string]*Client, len(cfgs))}
	for _, name := range slices.Sorted(maps.Keys(cfgs)) {
		cfg := cfgs[name]
		cfg.Name = name
		c, err := NewClient(cfg, opts...)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("upstream %s: %w", name, err)
		}
		r.clients[name] = c
		r.names = append(r.names, name)
	}
	return r, nil
}

// Client returns the client for name.
func (r *Registry) Client(name string) (*Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// Names returns the upstream names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Close closes every client and joins their errors.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.names {
		if err := r.clients[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
