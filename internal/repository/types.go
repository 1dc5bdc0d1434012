package repository

import "time"

// ── Domain types for users, activities and audit ──────────────────────────────

// RoleSalesManager is the role granting fallback approval authority.
const RoleSalesManager = "sales_manager"

// User is an entry in the user directory.
type User struct {
	ID        int64
	Name      string
	Email     string
	Roles     []string
	Active    bool
	CreatedAt time.Time
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ActivityTypeApprovalEmail is the activity scheduled for an order's approver.
const ActivityTypeApprovalEmail = "approval_email"

// Activity is a reminder addressed to one user about one order.
type Activity struct {
	ID           string
	OrderID      string
	UserID       int64
	ActivityType string
	Summary      string
	Note         string
	State        string // pending | done
	CreatedAt    time.Time
	DoneAt       *time.Time
}

// Audit actions.
const (
	AuditActionSubmitted       = "submitted"
	AuditActionApproved        = "approved"
	AuditActionConfirmed       = "confirmed"
	AuditActionCancelled       = "cancelled"
	AuditActionAmountChanged   = "amount_changed"
	AuditActionSettingsChanged = "settings_changed"
)

// AuditEntry is one immutable record in the order audit log.
type AuditEntry struct {
	ID           string
	OrderID      string
	Action       string
	PerformedBy  int64
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
}
