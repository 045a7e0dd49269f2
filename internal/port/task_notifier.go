package port

import "context"

type TaskNotifier interface {
	// NotifyMaterialAvailable signals the external task component that the
	// material a task was blocked on has been allocated.
	NotifyMaterialAvailable(ctx context.Context, taskID string) error
}
