package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// AddSuggestion appends a background-analysis suggestion. The active set is
// capped: when the cap is exceeded the oldest active suggestions are
// auto-dismissed (FIFO). Insert and eviction share one transaction.
func (s *SQLiteStore) AddSuggestion(ctx context.Context, suggestionType, content string) (*types.Suggestion, error) {
	var created *types.Suggestion
	err := s.RunInTransaction(ctx, func(tx storage.Tx) error {
		stx := tx.(*sqliteTx)

		id, err := nextID(ctx, stx.tx, storage.EntitySuggestion)
		if err != nil {
			return err
		}
		now := time.Now()
		_, err = stx.tx.ExecContext(ctx, `
			INSERT INTO suggestions (id, type, content, created_at, dismissed)
			VALUES (?, ?, ?, ?, 0)
		`, id, suggestionType, content, now)
		if err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}

		_, err = stx.tx.ExecContext(ctx, `
			UPDATE suggestions SET dismissed = 1
			WHERE dismissed = 0 AND id NOT IN (
				SELECT id FROM suggestions
				WHERE dismissed = 0
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
		`, types.MaxActiveSuggestions)
		if err != nil {
			return fmt.Errorf("failed to evict overflow suggestions: %w", err)
		}

		created = &types.Suggestion{
			ID:        id,
			Type:      suggestionType,
			Content:   content,
			CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListSuggestions returns suggestions newest first; dismissed ones only when
// asked for.
func (s *SQLiteStore) ListSuggestions(ctx context.Context, includeDismissed bool) ([]*types.Suggestion, error) {
	query := `
		SELECT id, type, content, created_at, dismissed FROM suggestions
		WHERE dismissed = 0
		ORDER BY created_at DESC, id DESC
	`
	if includeDismissed {
		query = `
			SELECT id, type, content, created_at, dismissed FROM suggestions
			ORDER BY created_at DESC, id DESC
		`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []*types.Suggestion
	for rows.Next() {
		var sg types.Suggestion
		if err := rows.Scan(&sg.ID, &sg.Type, &sg.Content, &sg.CreatedAt, &sg.Dismissed); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		suggestions = append(suggestions, &sg)
	}
	return suggestions, rows.Err()
}

func (s *SQLiteStore) DismissSuggestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE suggestions SET dismissed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to dismiss suggestion %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewInvalidInput("suggestion %d not found", id)
	}
	return nil
}

// ClearSuggestions deletes every suggestion and returns the removed count.
func (s *SQLiteStore) ClearSuggestions(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suggestions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear suggestions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
