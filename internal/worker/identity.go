package worker

import "github.com/google/uuid"

// Identity is a worker's ID, generated once at process startup and threaded
// explicitly through every call that needs it. Nothing in this package reads
// a worker ID from ambient/global state.
type Identity struct {
	WorkerID string
}

// NewIdentity generates a fresh random worker identity.
func NewIdentity() Identity {
	return Identity{WorkerID: uuid.NewString()}
}
