package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"photoflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS actions (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('queued','processing','synced','failed','cancelled')),
  priority TEXT NOT NULL DEFAULT 'normal',
  payload BLOB,
  context TEXT NOT NULL,
  metadata TEXT NOT NULL,
  dependencies TEXT,
  group_id TEXT,
  tags TEXT
);
CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);
CREATE INDEX IF NOT EXISTS idx_actions_group ON actions(group_id) WHERE group_id IS NOT NULL;
`
	_, err := db.Exec(schema)
	return err
}

type sqliteStore struct{ db *sql.DB }

// NewSQLiteStore returns the primary transactional store.
func NewSQLiteStore(db *sql.DB) Store { return &sqliteStore{db: db} }

func (s *sqliteStore) Save(ctx context.Context, actions []domain.Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM actions`); err != nil {
		return fmt.Errorf("clear previous set: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO actions (id,type,status,priority,payload,context,metadata,dependencies,group_id,tags)
VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range actions {
		ctxJSON, err := json.Marshal(a.Context)
		if err != nil {
			return fmt.Errorf("marshal context for %s: %w", a.ID, err)
		}
		metaJSON, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", a.ID, err)
		}
		var deps, tags []byte
		if len(a.Dependencies) > 0 {
			deps, _ = json.Marshal(a.Dependencies)
		}
		if len(a.Tags) > 0 {
			tags, _ = json.Marshal(a.Tags)
		}
		var group sql.NullString
		if a.GroupID != "" {
			group = sql.NullString{String: a.GroupID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, string(a.Type), string(a.Status), string(a.Priority),
			[]byte(a.Payload), string(ctxJSON), string(metaJSON),
			nullableJSON(deps), group, nullableJSON(tags),
		); err != nil {
			return fmt.Errorf("insert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Load(ctx context.Context) ([]domain.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,type,status,priority,payload,context,metadata,dependencies,group_id,tags FROM actions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		var (
			a           domain.Action
			typ, status string
			priority    string
			payload     []byte
			ctxJSON     string
			metaJSON    string
			deps, tags  sql.NullString
			group       sql.NullString
		)
		if err := rows.Scan(&a.ID, &typ, &status, &priority, &payload, &ctxJSON, &metaJSON, &deps, &group, &tags); err != nil {
			return nil, err
		}
		a.Type = domain.ActionType(typ)
		a.Status = domain.Status(status)
		a.Priority = domain.Priority(priority)
		if len(payload) > 0 {
			a.Payload = json.RawMessage(payload)
		}
		if err := json.Unmarshal([]byte(ctxJSON), &a.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context for %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", a.ID, err)
		}
		if deps.Valid {
			if err := json.Unmarshal([]byte(deps.String), &a.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies for %s: %w", a.ID, err)
			}
		}
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), &a.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags for %s: %w", a.ID, err)
			}
		}
		if group.Valid {
			a.GroupID = group.String
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM actions`)
	return err
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
