package models

import (
	"strings"
	"time"
)

// RoleName enumerates the RBAC roles stored on User rows. The controller's
// stop-override checks go by requester name (IsAdminUser), not by role.
type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

// User represents an authenticated operator account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Username  string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// defaultAdminNames mirrors the original controller's treatment of
// "System", "System Admin" and "Admin" as admin-equivalent requesters for
// stop overrides, independent of any stored User row.
var defaultAdminNames = map[string]struct{}{
	"system":       {},
	"system admin": {},
	"admin":        {},
}

// IsAdminUser reports whether requester is treated as an admin for the
// purposes of StopTask's ownership override (§4.4.2). extra carries
// operator-configured admin aliases from Config.AdminUsers.
func IsAdminUser(requester string, extra []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(requester))
	if normalized == "" {
		return false
	}
	if _, ok := defaultAdminNames[normalized]; ok {
		return true
	}
	for _, name := range extra {
		if strings.ToLower(strings.TrimSpace(name)) == normalized {
			return true
		}
	}
	return false
}
