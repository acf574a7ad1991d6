package sync

import "context"

// Syncer is the engine surface the background scheduler drives. A run
// already in flight returns (nil, nil); concurrent triggers coalesce.
type Syncer interface {
	Sync(ctx context.Context) (*SyncResult, error)
}
