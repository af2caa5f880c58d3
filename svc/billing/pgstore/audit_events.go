package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/lmsadmin/pkg/audit"
	"github.com/dmitrymomot/lmsadmin/pkg/pg"
)

// AuditStorage implements audit.Storage on the audit_events table.
type AuditStorage struct {
	db DB
}

var _ audit.Storage = (*AuditStorage)(nil)

func NewAuditStorage(db DB) *AuditStorage {
	if db == nil {
		panic("pgstore: db cannot be nil")
	}
	return &AuditStorage{db: db}
}

const insertAuditEvent = `
	INSERT INTO audit_events (id, actor_id, action, resource, resource_id, result, error, request_id, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Store writes all events in one transaction.
func (s *AuditStorage) Store(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, e := range events {
			var meta []byte
			if len(e.Metadata) > 0 {
				var err error
				if meta, err = json.Marshal(e.Metadata); err != nil {
					return fmt.Errorf("encode audit metadata: %w", err)
				}
			}
			if _, err := tx.Exec(ctx, insertAuditEvent,
				e.ID, e.ActorID, e.Action, e.Resource, e.ResourceID, string(e.Result),
				e.Error, e.RequestID, meta, e.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert audit event: %w", err)
			}
		}
		return nil
	})
}

func (s *AuditStorage) Query(ctx context.Context, criteria audit.Criteria) ([]audit.Event, error) {
	criteria, err := criteria.Normalize()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if criteria.ActorID != "" {
		add("actor_id = ?", criteria.ActorID)
	}
	if criteria.Action != "" {
		add("action = ?", criteria.Action)
	}
	if criteria.Resource != "" {
		add("resource = ?", criteria.Resource)
	}
	if criteria.ResourceID != "" {
		add("resource_id = ?", criteria.ResourceID)
	}
	if !criteria.Since.IsZero() {
		add("created_at >= ?", criteria.Since.UTC())
	}
	if !criteria.Until.IsZero() {
		add("created_at < ?", criteria.Until.UTC())
	}

	sql := `SELECT id, actor_id, action, resource, resource_id, result, error, request_id, metadata, created_at FROM audit_events`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, criteria.Limit)
	sql += " ORDER BY created_at DESC, seq DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Event, error) {
		var (
			e      audit.Event
			result string
			meta   []byte
		)
		if err := row.Scan(&e.ID, &e.ActorID, &e.Action, &e.Resource, &e.ResourceID, &result,
			&e.Error, &e.RequestID, &meta, &e.CreatedAt); err != nil {
			return e, err
		}
		e.Result = audit.Result(result)
		e.CreatedAt = e.CreatedAt.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return e, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit events: %w", err)
	}
	return events, nil
}
