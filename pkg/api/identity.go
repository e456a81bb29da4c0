package api

import "context"

// TaskIdentity receives the definition a wrapped task function reports
// when probed. See WithTaskIdentity.
type TaskIdentity struct {
	def *TaskDefinition
}

// Definition returns the reported definition, or nil when nothing
// responded.
func (ti *TaskIdentity) Definition() *TaskDefinition { return ti.def }

type taskIdentityKey struct{}

// WithTaskIdentity returns a context under which tracked task wrappers
// identify themselves instead of executing. Wrapper closures all share
// one code pointer, so the registry cannot tell them apart by function
// value alone; probing under this context is how a wrapped function in
// an explicit task list resolves to its declaration. Task code never
// runs under such a context.
func WithTaskIdentity(parent context.Context) (context.Context, *TaskIdentity) {
	ti := &TaskIdentity{}
	return context.WithValue(parent, taskIdentityKey{}, ti), ti
}

// IdentifyTask responds to a pending identity probe with def, reporting
// whether a probe was present. Wrappers call this before doing any work.
func IdentifyTask(ctx context.Context, def *TaskDefinition) bool {
	ti, ok := ctx.Value(taskIdentityKey{}).(*TaskIdentity)
	if !ok {
		return false
	}
	ti.def = def
	return true
}
