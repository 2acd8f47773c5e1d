package audit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/noah-isme/academy-api/internal/common"
	"github.com/noah-isme/academy-api/internal/store"
)

// Handler exposes the audit trail to administrators.
type Handler struct {
	Store Store
}

// Log is the API view of an audit entry.
type Log struct {
	ID           int64           `json:"id"`
	ActorKind    string          `json:"actor_kind"`
	ActorUserID  *string         `json:"actor_user_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int32           `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	RequestID    *string         `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// List handles GET /api/v1/admin/audit-logs.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	limit := common.QueryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := common.QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := h.Store.ListAuditLogs(r.Context(), int32(limit), int32(offset))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	out := make([]Log, 0, len(rows))
	for _, row := range rows {
		out = append(out, toLog(row))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func toLog(row store.AuditLog) Log {
	l := Log{
		ID:           row.ID,
		ActorKind:    row.ActorKind,
		ActorUserID:  row.ActorUserID,
		Action:       row.Action,
		ResourceType: row.ResourceType,
		ResourceID:   row.ResourceID,
		Method:       row.Method,
		Path:         row.Path,
		Status:       row.Status,
		IP:           row.IP,
		RequestID:    row.RequestID,
		CreatedAt:    row.CreatedAt,
	}
	if len(row.Metadata) > 0 {
		l.Metadata = json.RawMessage(row.Metadata)
	}
	return l
}
