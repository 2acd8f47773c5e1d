package store

import (
	"context"
	"time"
)

// AuditLog is one recorded admin action.
type AuditLog struct {
	ID           int64
	ActorKind    string
	ActorUserID  *string
	Action       string
	ResourceType string
	ResourceID   *string
	Method       string
	Path         string
	Status       int32
	IP           *string
	UserAgent    *string
	RequestID    *string
	Metadata     []byte
	CreatedAt    time.Time
}

// InsertAuditLogParams is the row written for an audited request.
type InsertAuditLogParams struct {
	ActorKind    string
	ActorUserID  *string
	Action       string
	ResourceType string
	ResourceID   *string
	Method       string
	Path         string
	Status       int32
	IP           *string
	UserAgent    *string
	RequestID    *string
	Metadata     []byte
}

// InsertAuditLog appends an audit entry and returns its id.
func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
INSERT INTO audit_logs (actor_kind, actor_user_id, action, resource_type, resource_id, method, path, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		arg.ActorKind, arg.ActorUserID, arg.Action, arg.ResourceType, arg.ResourceID, arg.Method, arg.Path,
		arg.Status, arg.IP, arg.UserAgent, arg.RequestID, arg.Metadata).Scan(&id)
	return id, mapErr(err)
}

// ListAuditLogs returns audit entries newest first.
func (q *Queries) ListAuditLogs(ctx context.Context, limit, offset int32) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, `
SELECT id, actor_kind, actor_user_id::text, action, resource_type, resource_id, method, path, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.ActorKind, &a.ActorUserID, &a.Action, &a.ResourceType, &a.ResourceID, &a.Method,
			&a.Path, &a.Status, &a.IP, &a.UserAgent, &a.RequestID, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}
