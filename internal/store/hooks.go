package store

import (
	"context"
	"fmt"

	"github.com/roach88/fleetd/internal/model"
)

// Method identifies the mutation class a hook intercepts.
type Method string

const (
	MethodCreate Method = "POST"
	MethodUpdate Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Phase identifies when a hook runs relative to the mutation.
type Phase int

const (
	// PreExecute hooks run before the mutation statement, after the
	// affected row ids have been resolved. A pre hook observes the rows
	// in their old state.
	PreExecute Phase = iota + 1

	// PostExecute hooks run after the mutation statement, still inside
	// the transaction. For creates, the new row id is available.
	PostExecute
)

// MutationRequest carries the context of one mutation through its hooks.
type MutationRequest struct {
	Method   Method
	Resource string

	// Actor is the principal of the original request. Hooks that fan
	// out to rows the caller may not own escalate to model.RootActor
	// explicitly rather than inheriting this.
	Actor model.Actor

	// Payload is the mutation input: *model.DeviceInput,
	// *model.DevicePatch, *model.ApplicationInput or
	// *model.ApplicationPatch depending on method and resource.
	Payload any

	// AffectedIDs holds the row ids resolved before execution.
	// Populated for updates and deletes; empty for creates.
	AffectedIDs []int64

	// CreatedID is the id assigned to the new row. Populated for
	// creates in the post-execute phase only.
	CreatedID int64
}

// HookFn is a mutation hook. It runs inside the mutation's transaction;
// returning an error aborts the whole mutation.
type HookFn func(ctx context.Context, tx *Tx, req *MutationRequest) error

type hookKey struct {
	method   Method
	resource string
	phase    Phase
}

type registeredHook struct {
	name string
	fn   HookFn
}

// hookRegistry holds mutation hooks keyed by (method, resource, phase).
// Hooks for a key run in registration order; the order never changes
// after registration, so cascades are deterministic.
type hookRegistry struct {
	hooks map[hookKey][]registeredHook
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{hooks: make(map[hookKey][]registeredHook)}
}

// RegisterHook attaches fn to the given (method, resource, phase)
// trigger point. The name identifies the hook in error messages.
//
// Registration is not synchronized: register all hooks during startup,
// before serving mutations.
func (s *Store) RegisterHook(method Method, resource string, phase Phase, name string, fn HookFn) {
	key := hookKey{method: method, resource: resource, phase: phase}
	s.hooks.hooks[key] = append(s.hooks.hooks[key], registeredHook{name: name, fn: fn})
}

// runHooks dispatches all hooks registered for the request's trigger
// point. The first hook error aborts dispatch and is propagated to the
// mutation, failing the owning transaction.
func (t *Tx) runHooks(ctx context.Context, phase Phase, req *MutationRequest) error {
	key := hookKey{method: req.Method, resource: req.Resource, phase: phase}
	for _, h := range t.store.hooks.hooks[key] {
		if err := h.fn(ctx, t, req); err != nil {
			return fmt.Errorf("hook %s (%s %s): %w", h.name, req.Method, req.Resource, err)
		}
	}
	return nil
}
