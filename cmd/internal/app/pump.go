package app

import (
	"context"

	v1 "chatsync/shared/contracts/sync/v1"
)

type updateApplier interface {
	Apply(p v1.UpdatesPayload)
}

// pumpUpdates feeds pushed update batches into the engine in arrival order.
func pumpUpdates(ctx context.Context, updates <-chan v1.UpdatesPayload, eng updateApplier) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			eng.Apply(p)
		}
	}
}
