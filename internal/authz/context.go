package authz

import "context"

type snapshotContextKey struct{}

// ContextWithSnapshot stores the snapshot in context for the request.
func ContextWithSnapshot(ctx context.Context, snap *Snapshot) context.Context {
	return context.WithValue(ctx, snapshotContextKey{}, snap)
}

// SnapshotFromContext extracts the snapshot from context.
func SnapshotFromContext(ctx context.Context) *Snapshot {
	snap, _ := ctx.Value(snapshotContextKey{}).(*Snapshot)
	return snap
}
