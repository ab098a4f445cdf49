package syncer

import (
	"context"
	"sort"

	"healthtrack/syncd/internal/queue"
)

// Handler runs a best-effort side effect after a create was applied remotely.
// Its error is logged and never fails the operation.
type Handler interface {
	AfterCreate(ctx context.Context, op queue.Operation, id string) error
}

type HandlerFunc func(ctx context.Context, op queue.Operation, id string) error

func (f HandlerFunc) AfterCreate(ctx context.Context, op queue.Operation, id string) error {
	return f(ctx, op, id)
}

// SoftDelete turns a delete of the resource into an update that sets Field
// to Value.
type SoftDelete struct {
	Field string
	Value any
}

// Resource is the per-collection sync policy.
type Resource struct {
	Name       string
	SoftDelete *SoftDelete
	Handler    Handler
}

// Registry maps resource names to their policy. A resource without an entry
// is hard-deleted and has no side effects.
type Registry struct {
	resources map[string]Resource
}

func NewRegistry(resources ...Resource) *Registry {
	r := &Registry{resources: make(map[string]Resource, len(resources))}
	for _, res := range resources {
		r.Register(res)
	}
	return r
}

func (r *Registry) Register(res Resource) {
	r.resources[res.Name] = res
}

func (r *Registry) Lookup(name string) (Resource, bool) {
	if r == nil {
		return Resource{}, false
	}
	res, ok := r.resources[name]
	return res, ok
}

// Names lists the registered resources in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
