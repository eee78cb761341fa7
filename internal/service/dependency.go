package service

import (
	"context"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// dependencyDepthCap bounds the cycle-detection traversal.
const dependencyDepthCap = 100

// DependencyService owns BLOCKED_BY edges between tasks.
type DependencyService struct {
	store storage.Store
}

func NewDependencyService(store storage.Store) *DependencyService {
	return &DependencyService{store: store}
}

// Add inserts a BLOCKED_BY edge: blocking must reach done before blocked
// may start. Self-edges and edges that would close a cycle are rejected.
func (s *DependencyService) Add(ctx context.Context, blockingID, blockedID int64) (*types.Dependency, error) {
	var dep *types.Dependency
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var err error
		dep, err = addDependencyInTx(ctx, tx, blockingID, blockedID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

// addDependencyInTx is the validated edge insert shared with the plan
// executor.
func addDependencyInTx(ctx context.Context, tx storage.Tx, blockingID, blockedID int64) (*types.Dependency, error) {
	if blockingID == blockedID {
		return nil, types.NewInvalidInput("task %d cannot depend on itself", blockingID)
	}
	if _, err := tx.GetTask(ctx, blockingID); err != nil {
		return nil, err
	}
	if _, err := tx.GetTask(ctx, blockedID); err != nil {
		return nil, err
	}

	// The new edge closes a cycle exactly when blocked already blocks
	// blocking, transitively.
	reachable, err := tx.DependencyReachable(ctx, blockingID, blockedID, dependencyDepthCap)
	if err != nil {
		return nil, err
	}
	if reachable {
		return nil, types.NewCircularDependency(blockingID, blockedID)
	}
	return tx.AddDependency(ctx, blockingID, blockedID)
}

func (s *DependencyService) Remove(ctx context.Context, blockingID, blockedID int64) error {
	return s.store.RemoveDependency(ctx, blockingID, blockedID)
}

// IncompleteBlockers returns blocking tasks still in todo or doing; an
// empty list means the task is startable.
func (s *DependencyService) IncompleteBlockers(ctx context.Context, taskID int64) ([]int64, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.IncompleteBlockers(ctx, taskID)
}

// BlockingTaskIDs returns every direct blocker, complete or not.
func (s *DependencyService) BlockingTaskIDs(ctx context.Context, taskID int64) ([]int64, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.BlockingTaskIDs(ctx, taskID)
}
