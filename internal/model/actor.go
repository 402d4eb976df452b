package model

// Actor is the principal a store operation executes as.
//
// Hook-driven cascades that touch rows the original caller may not own
// (an application pin change fanning out to its whole fleet) run as the
// root actor; everything else inherits the actor of the triggering
// request.
type Actor struct {
	ID   int64
	Root bool
}

// RootActor is the elevated execution context used by cascading hooks
// and trusted internal callers.
var RootActor = Actor{Root: true}

// IsZero reports whether no principal was supplied at all.
func (a Actor) IsZero() bool {
	return a.ID == 0 && !a.Root
}
