package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/academy-api/internal/common"
	"github.com/noah-isme/academy-api/internal/obs"
	"github.com/noah-isme/academy-api/internal/store"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	ActorKindAdmin     ActorKind = "admin"
	ActorKindSystem    ActorKind = "system"
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes who performed the action.
type Actor struct {
	Kind   ActorKind
	UserID string
}

// Store is the audit persistence surface. *store.Queries implements it.
type Store interface {
	InsertAuditLog(ctx context.Context, arg store.InsertAuditLogParams) (int64, error)
	ListAuditLogs(ctx context.Context, limit, offset int32) ([]store.AuditLog, error)
}

// Service writes audit entries for admin mutations of the student roster.
type Service struct {
	Store   Store
	Enabled bool
}

// Entry is one audited request after it has been handled.
type Entry struct {
	Actor        Actor
	Action       string
	ResourceType string
	ResourceID   string
	Status       int
	Metadata     map[string]any
}

// Record persists e for req. It is a no-op when auditing is disabled.
func (s Service) Record(ctx context.Context, req *http.Request, e Entry) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	requestID := middleware.GetReqID(req.Context())
	if requestID == "" {
		requestID = req.Header.Get("X-Request-ID")
	}

	_, err := s.Store.InsertAuditLog(ctx, store.InsertAuditLogParams{
		ActorKind:    string(normalizeActorKind(e.Actor.Kind)),
		ActorUserID:  actorUUID(e.Actor.UserID),
		Action:       actionName(e.Action, req.Method, route),
		ResourceType: resourceName(e.ResourceType, route),
		ResourceID:   optional(e.ResourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       int32(status),
		IP:           optional(common.ClientIP(req)),
		UserAgent:    optional(req.UserAgent()),
		RequestID:    optional(requestID),
		Metadata:     metadataJSON(e.Metadata, req.URL.RawQuery),
	})
	return err
}

func actionName(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

// resourceName derives "admin.students.{sno}" style names from /api/v1 routes.
func resourceName(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	return strings.Join(segments, ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindAdmin, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func actorUUID(id string) *string {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil
	}
	s := parsed.String()
	return &s
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func metadataJSON(metadata map[string]any, query string) []byte {
	if len(metadata) == 0 {
		if strings.TrimSpace(query) == "" {
			return nil
		}
		metadata = map[string]any{"query": query}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return data
}
