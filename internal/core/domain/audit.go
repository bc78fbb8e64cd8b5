package domain

import "time"

// AuditAction names a security-relevant change.
type AuditAction string

const (
	AuditUserRegistered AuditAction = "user_registered"
	AuditLoginSucceeded AuditAction = "login_succeeded"
	AuditLoginFailed    AuditAction = "login_failed"
	AuditUserUpdated    AuditAction = "user_updated"
	AuditUserDeleted    AuditAction = "user_deleted"
	AuditRoleAssigned   AuditAction = "role_assigned"
	AuditRoleRemoved    AuditAction = "role_removed"
	AuditRoleCreated    AuditAction = "role_created"
	AuditRoleUpdated    AuditAction = "role_updated"
	AuditRoleDeleted    AuditAction = "role_deleted"
)

// AuditEvent is one entry of the append-only security audit trail.
// Subject is the user the event is about; Actor is who caused it (empty for
// self-service operations such as login).
type AuditEvent struct {
	Action    AuditAction       `json:"action" bson:"action"`
	Subject   string            `json:"subject" bson:"subject"`
	Actor     string            `json:"actor,omitempty" bson:"actor,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
}
