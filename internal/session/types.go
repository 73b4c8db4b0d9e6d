package session

import "time"

// CreateRequest defines payload for creating a new chat session. The tenant
// comes from the request headers, not the body.
type CreateRequest struct {
	UserID   string `json:"user_id"`
	ScopeID  string `json:"scope_id"`
	PageKind string `json:"page_kind"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	ScopeID         string    `json:"scope_id,omitempty"`
	PageKind        string    `json:"page_kind,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
