package service

import (
	"context"
	"time"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// Session housekeeping defaults, applied opportunistically at tool-server
// startup.
const (
	DefaultSessionTTL = 720 * time.Hour
	DefaultSessionMax = 50
)

// WorkspaceService owns the per-session focus pointer.
type WorkspaceService struct {
	store storage.Store
}

func NewWorkspaceService(store storage.Store) *WorkspaceService {
	return &WorkspaceService{store: store}
}

// Get returns the session's focus state. A missing session yields nulls,
// not an error; an existing session gets its last_active_at advanced.
func (s *WorkspaceService) Get(ctx context.Context, sessionID string) (*types.FocusState, error) {
	sessionID = resolveSession(sessionID)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state := &types.FocusState{SessionID: sessionID}
	if session == nil {
		return state, nil
	}

	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		return nil, err
	}

	if session.CurrentTaskID != nil {
		state.CurrentTaskID = session.CurrentTaskID
		task, err := s.store.GetTask(ctx, *session.CurrentTaskID)
		if err == nil {
			state.Task = task
		} else if !types.IsCode(err, types.CodeTaskNotFound) {
			return nil, err
		}
	}
	return state, nil
}

// Set points the session at a task; the task must exist.
func (s *WorkspaceService) Set(ctx context.Context, taskID int64, sessionID string) error {
	sessionID = resolveSession(sessionID)
	return s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return err
		}
		return tx.SetFocus(ctx, sessionID, &taskID)
	})
}

// Clear nulls the focus pointer but keeps the session row.
func (s *WorkspaceService) Clear(ctx context.Context, sessionID string) error {
	sessionID = resolveSession(sessionID)
	return s.store.SetFocus(ctx, sessionID, nil)
}

// CleanupExpired deletes sessions idle longer than the TTL.
func (s *WorkspaceService) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return s.store.CleanupExpiredSessions(ctx, ttl)
}

// EnforceLimit keeps only the most recently active sessions.
func (s *WorkspaceService) EnforceLimit(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = DefaultSessionMax
	}
	return s.store.EnforceSessionLimit(ctx, keep)
}
