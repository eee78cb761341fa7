package service

import (
	"context"
	"time"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// EventService owns the append-only per-task decision log.
type EventService struct {
	store storage.Store
}

func NewEventService(store storage.Store) *EventService {
	return &EventService{store: store}
}

// Add appends a log entry to an existing task.
func (s *EventService) Add(ctx context.Context, taskID int64, logType, body string) (*types.Event, error) {
	if logType == "" {
		return nil, types.NewInvalidInput("event log type is required")
	}
	if body == "" {
		return nil, types.NewInvalidInput("event body is required")
	}

	var created *types.Event
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, taskID); err != nil {
			return err
		}
		id, err := tx.NextID(ctx, storage.EntityEvent)
		if err != nil {
			return err
		}
		event := &types.Event{
			ID:             id,
			TaskID:         taskID,
			Timestamp:      time.Now(),
			LogType:        logType,
			DiscussionData: body,
		}
		if err := tx.AddEvent(ctx, event); err != nil {
			return err
		}
		created = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// List returns events newest first; default limit 50.
func (s *EventService) List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	if filter.TaskID != nil {
		if _, err := s.store.GetTask(ctx, *filter.TaskID); err != nil {
			return nil, err
		}
	}
	return s.store.ListEvents(ctx, filter)
}

// Update rewrites the type and/or body; timestamp and task binding are
// preserved.
func (s *EventService) Update(ctx context.Context, id int64, logType, body *string) (*types.Event, error) {
	if err := s.store.UpdateEvent(ctx, id, logType, body); err != nil {
		return nil, err
	}
	return s.store.GetEvent(ctx, id)
}

func (s *EventService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteEvent(ctx, id)
}

// Summary returns (total count, recent ≤ 10) in one round-trip.
func (s *EventService) Summary(ctx context.Context, taskID int64) (*types.EventsSummary, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.EventsSummary(ctx, taskID, 10)
}
