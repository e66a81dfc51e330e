package session

import (
	"context"
	"errors"
)

// ErrUnavailable marks store failures. A turn that hits it is reported failed
// to the caller without any state having been written.
var ErrUnavailable = errors.New("session store unavailable")

// Store persists conversation state. Load returns (nil, nil) for an unknown
// session id; Save replaces the stored state atomically.
type Store interface {
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, state *State) error
}

// Lister is an optional Store capability used by the idle sweeper.
type Lister interface {
	IDs(ctx context.Context) ([]string, error)
}
