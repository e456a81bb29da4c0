// Package registry stores declared tasks and flows, keyed by function
// identity, and associates tasks with the flows that call them.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/flowlinehq/flowline/pkg/api"
)

// Associator decides which declared tasks belong to a flow. The default is
// source scanning; callers whose flow bodies cannot be scanned (generated
// code, stripped binaries) plug in their own.
type Associator interface {
	Associate(flow *api.FlowDefinition, tasks []*api.TaskDefinition) ([]*api.TaskDefinition, error)
}

// Registry is the in-memory catalog of declared flows and tasks.
//
// Declarations happen during program initialization, before any execution;
// after that the registry is effectively read-only, and the lock only
// guards against sloppy late declarations.
type Registry struct {
	mu         sync.RWMutex
	tasks      []*api.TaskDefinition
	tasksByKey map[uintptr]*api.TaskDefinition
	flows      []*api.FlowDefinition
	flowsByKey map[uintptr]*api.FlowDefinition
	associator Associator

	// trampolines holds code pointers claimed by more than one aliased
	// wrapper. Every wrapper closure shares its creation site's code
	// pointer, so once two definitions claim one, resolution has to ask
	// the function itself via an identity probe.
	trampolines map[uintptr]bool
}

// New returns a Registry using source-scan association.
func New() *Registry {
	return NewWithAssociator(SourceScanAssociator{})
}

// NewWithAssociator returns a Registry with a custom Associator.
func NewWithAssociator(a Associator) *Registry {
	if a == nil {
		a = SourceScanAssociator{}
	}
	return &Registry{
		tasksByKey:  make(map[uintptr]*api.TaskDefinition),
		flowsByKey:  make(map[uintptr]*api.FlowDefinition),
		associator:  a,
		trampolines: make(map[uintptr]bool),
	}
}

func funcKey(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// DeclareTask stores a TaskDefinition for fn. Declaring the same function
// twice is an error: definitions are created exactly once. Identity is
// the function's code pointer, so each task needs its own function or
// function literal; closures minted by one source line are
// indistinguishable here.
func (r *Registry) DeclareTask(fn api.TaskFunc, opts api.TaskOptions) (*api.TaskDefinition, error) {
	if fn == nil {
		return nil, fmt.Errorf("declare task: nil function")
	}

	ident := funcIdentifier(fn)
	name := opts.Name
	if name == "" {
		name = ident
	}
	estimated := opts.EstimatedTime
	if estimated <= 0 {
		estimated = api.DefaultEstimatedTime
	}

	def := &api.TaskDefinition{
		Name:          name,
		FuncName:      ident,
		Description:   opts.Description,
		EstimatedTime: estimated,
		CrucialPass:   !opts.Optional,
		Fn:            fn,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := funcKey(fn)
	if existing, ok := r.tasksByKey[key]; ok {
		return nil, fmt.Errorf("task %q already declared", existing.Name)
	}
	r.tasksByKey[key] = def
	r.tasks = append(r.tasks, def)
	return def, nil
}

// DeclareFlow stores a FlowDefinition for fn, keyed separately from task
// storage. Flow names may repeat (resolution is first-match-wins in
// declaration order); declaring the same function twice is an error.
func (r *Registry) DeclareFlow(fn api.FlowFunc, opts api.FlowOptions) (*api.FlowDefinition, error) {
	if fn == nil {
		return nil, fmt.Errorf("declare flow: nil function")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("declare flow: name is required")
	}

	def := &api.FlowDefinition{
		Name:              opts.Name,
		FuncName:          funcIdentifier(fn),
		Description:       opts.Description,
		Tags:              opts.Tags,
		AutoTrigger:       opts.AutoTrigger,
		AutoTriggerConfig: opts.AutoTriggerConfig,
		Fn:                fn,
		ExplicitTasks:     opts.Tasks,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := funcKey(fn)
	if existing, ok := r.flowsByKey[key]; ok {
		return nil, fmt.Errorf("flow %q already declared", existing.Name)
	}
	r.flowsByKey[key] = def
	r.flows = append(r.flows, def)
	return def, nil
}

// AliasTask maps a wrapper function to the definition it tracks, so
// explicit task lists may reference either the original or the wrapped
// form. fn must respond to identity probes (see api.WithTaskIdentity):
// when a second definition claims the same code pointer, resolution
// switches to probing and will invoke the function under a probe
// context.
func (r *Registry) AliasTask(fn api.TaskFunc, def *api.TaskDefinition) {
	if fn == nil || def == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := funcKey(fn)
	if r.trampolines[key] {
		return
	}
	if existing, ok := r.tasksByKey[key]; ok && existing != def {
		delete(r.tasksByKey, key)
		r.trampolines[key] = true
		return
	}
	r.tasksByKey[key] = def
}

// TaskByFunc resolves a function value (original or aliased) to its
// definition.
func (r *Registry) TaskByFunc(fn api.TaskFunc) (*api.TaskDefinition, error) {
	if fn == nil {
		return nil, api.ErrTaskNotFound
	}

	key := funcKey(fn)
	r.mu.RLock()
	def, ok := r.tasksByKey[key]
	probe := r.trampolines[key]
	r.mu.RUnlock()

	if ok {
		return def, nil
	}
	if probe {
		// Only aliased wrappers are ever marked, and under an identity
		// probe they report their definition without executing.
		ictx, identity := api.WithTaskIdentity(context.Background())
		_, _ = fn(ictx)
		if d := identity.Definition(); d != nil {
			return d, nil
		}
	}
	return nil, api.ErrTaskNotFound
}

// FlowByName returns the first declared flow with the given name, or
// api.ErrFlowNotFound.
func (r *Registry) FlowByName(name string) (*api.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, def := range r.flows {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("flow %q: %w", name, api.ErrFlowNotFound)
}

// FlowByFunc resolves a flow function to its definition.
func (r *Registry) FlowByFunc(fn api.FlowFunc) (*api.FlowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.flowsByKey[funcKey(fn)]
	if !ok {
		return nil, api.ErrFlowNotFound
	}
	return def, nil
}

// Flows returns the declared flows in declaration order.
func (r *Registry) Flows() []*api.FlowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*api.FlowDefinition, len(r.flows))
	copy(out, r.flows)
	return out
}

// Tasks returns the declared tasks in declaration order.
func (r *Registry) Tasks() []*api.TaskDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*api.TaskDefinition, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// FlowCount returns the number of declared flows.
func (r *Registry) FlowCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flows)
}

// Analyze populates def.Tasks with the tasks the flow uses and returns the
// sequence. The tasks list is recomputed from scratch on every call, never
// merged, so analysis is idempotent.
//
// With an explicit task list the given order is kept; under source scanning
// the result follows task declaration order, filtered to the tasks whose
// call form appears in the flow body. Call order in the body is not
// recovered.
func (r *Registry) Analyze(def *api.FlowDefinition) ([]*api.TaskDefinition, error) {
	if def == nil {
		return nil, api.ErrFlowNotFound
	}

	var tasks []*api.TaskDefinition
	if def.ExplicitTasks != nil {
		tasks = make([]*api.TaskDefinition, 0, len(def.ExplicitTasks))
		for i, fn := range def.ExplicitTasks {
			td, err := r.TaskByFunc(fn)
			if err != nil {
				return nil, fmt.Errorf("flow %q task %d: %w", def.Name, i, err)
			}
			tasks = append(tasks, td)
		}
	} else {
		var err error
		tasks, err = r.associator.Associate(def, r.Tasks())
		if err != nil {
			return nil, fmt.Errorf("analyze flow %q: %w", def.Name, err)
		}
	}

	// Concurrent runs may re-analyze the same flow; the write is guarded so
	// they do not race, and overwriting keeps the operation idempotent.
	r.mu.Lock()
	def.Tasks = tasks
	r.mu.Unlock()
	return tasks, nil
}

// WirePayload renders a flow definition and its analyzed task sequence to
// the backend wire shape. EstimatedTime is converted to integer
// milliseconds.
func WirePayload(def *api.FlowDefinition, tasks []*api.TaskDefinition) api.FlowPayload {
	payload := api.FlowPayload{
		Name:        def.Name,
		Description: def.Description,
		Tags:        def.Tags,
		Tasks:       make([]api.TaskPayload, 0, len(tasks)),
	}
	for _, t := range tasks {
		payload.Tasks = append(payload.Tasks, api.TaskPayload{
			Name:          t.Name,
			Description:   t.Description,
			EstimatedTime: t.EstimatedTime.Milliseconds(),
			CrucialPass:   t.CrucialPass,
		})
	}
	return payload
}
