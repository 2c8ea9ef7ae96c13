package reactor

import (
	"context"

	"github.com/sngor/bayon-realtime/internal/model"
)

// Op classifies one registry mutation.
type Op int

const (
	OpCreated Op = iota
	OpRemoved
	OpModified
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpRemoved:
		return "removed"
	case OpModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Mutation is one entry of the registry's ordered mutation feed.
// Created carries After only, Removed carries Before only, Modified
// carries both states.
type Mutation struct {
	Op     Op
	Before *model.Connection
	After  *model.Connection
}

// Feed is an ordered source of registry mutations. Next blocks until an
// entry is available or ctx is done. Entries are ordered per partition;
// consumers must not assume ordering across partitions.
type Feed interface {
	Next(ctx context.Context) (Mutation, error)
	Close(ctx context.Context) error
}

// FeedOpener opens a fresh feed. The reactor's supervising loop calls it
// again after a feed failure, so implementations must be safe to invoke
// repeatedly.
type FeedOpener func(ctx context.Context) (Feed, error)

// CollaboratorResolver supplies the set of user ids interested in a user's
// online/offline transitions. The policy is external and injected; the
// reactor never assumes any particular membership rule.
type CollaboratorResolver interface {
	Collaborators(ctx context.Context, userID string) ([]string, error)
}

// NoopResolver resolves every user to no collaborators.
type NoopResolver struct{}

func (NoopResolver) Collaborators(context.Context, string) ([]string, error) {
	return nil, nil
}
