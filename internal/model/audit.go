package model

import "time"

const (
	AuditRegister        = "register"
	AuditLogin           = "login"
	AuditLoginFailed     = "login_failed"
	AuditRefresh         = "refresh"
	AuditRefreshRejected = "refresh_rejected"
	AuditRefreshReuse    = "refresh_reuse"
	AuditLogout          = "logout"
	AuditProfileUpdate   = "profile_update"
)

type AuditEntry struct {
	Action     string    `json:"action"`
	UserID     string    `json:"userId,omitempty"`
	JTI        string    `json:"jti,omitempty"`
	Status     string    `json:"status"`
	ClientIP   string    `json:"clientIp,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
