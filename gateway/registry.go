package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	radix "github.com/armon/go-radix"
	"github.com/mitchellh/copystructure"
	"github.com/stephnangue/vanguard/logger"
)

// Registry maps request paths to service registrations by longest prefix.
// Registration happens at startup; lookups dominate after that, so the
// tree sits behind a read-write lock.
type Registry struct {
	mu     sync.RWMutex
	routes *radix.Tree
	byName map[string]*ServiceRegistration
	logger logger.Logger
}

// NewRegistry builds an empty service registry
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		routes: radix.New(),
		byName: make(map[string]*ServiceRegistration),
		logger: log.WithSubsystem("registry"),
	}
}

// Register validates the registration, fills its defaults and mounts it at
// its path prefix. Duplicate names and prefixes are rejected.
func (r *Registry) Register(reg *ServiceRegistration) error {
	if err := reg.normalize(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[reg.Name]; ok {
		return fmt.Errorf("service %q is already registered", reg.Name)
	}
	if _, ok := r.routes.Get(reg.PathPrefix); ok {
		return fmt.Errorf("path prefix %q is already claimed", reg.PathPrefix)
	}

	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = time.Now()
	}

	r.routes.Insert(reg.PathPrefix, reg)
	r.byName[reg.Name] = reg

	r.logger.Info("registered service",
		logger.String("service", reg.Name),
		logger.String("prefix", reg.PathPrefix),
		logger.String("upstream", reg.UpstreamURL),
		logger.String("auth", string(reg.Auth)),
	)

	return nil
}

// Deregister removes a service by name
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("service %q is not registered", name)
	}

	r.routes.Delete(reg.PathPrefix)
	delete(r.byName, name)

	r.logger.Info("deregistered service", logger.String("service", name))
	return nil
}

// Match resolves the registration claiming the longest prefix of the path.
// A prefix only matches at a path-segment boundary, so /api/users does not
// claim /api/userstuff.
func (r *Registry) Match(path string) (*ServiceRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	search := path
	for {
		prefix, value, ok := r.routes.LongestPrefix(search)
		if !ok {
			return nil, false
		}
		if prefix == "/" || len(path) == len(prefix) || path[len(prefix)] == '/' {
			return value.(*ServiceRegistration), true
		}
		// Matched mid-segment; retry against a shorter search string
		search = search[:len(prefix)-1]
		if !strings.HasPrefix(search, "/") {
			return nil, false
		}
	}
}

// Lookup returns a registration by name
func (r *Registry) Lookup(name string) (*ServiceRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	return reg, ok
}

// List returns deep copies of every registration, ordered by name, so the
// discovery endpoint cannot leak mutable internals.
func (r *Registry) List() []*ServiceRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceRegistration, 0, len(r.byName))
	for _, reg := range r.byName {
		clone, err := copystructure.Copy(reg)
		if err != nil {
			continue
		}
		out = append(out, clone.(*ServiceRegistration))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Len reports the number of registered services
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
