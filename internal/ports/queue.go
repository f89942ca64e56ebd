package ports

import (
	"context"

	"stashworker/internal/domain/offline"
)

// ActionReplayer performs one queued action against the remote API.
type ActionReplayer interface {
	Replay(ctx context.Context, action offline.QueuedAction) error
}

type ActionReplayerFunc func(ctx context.Context, action offline.QueuedAction) error

func (f ActionReplayerFunc) Replay(ctx context.Context, action offline.QueuedAction) error {
	return f(ctx, action)
}

// Connectivity reports whether the network is believed reachable.
type Connectivity interface {
	Online() bool
}

// ConnectivityState is a Connectivity that can be told the current state.
// Set reports whether the state changed.
type ConnectivityState interface {
	Connectivity
	Set(online bool) bool
}
