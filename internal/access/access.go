// Package access holds the role to capability table. Every state-changing
// operation calls Require once, before touching any state.
package access

import (
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
)

type Capability string

const (
	DrillManage   Capability = "drill:manage"
	DrillCheckIn  Capability = "drill:checkin"
	DrillOverride Capability = "drill:override"
	DrillView     Capability = "drill:view"
	DrillRecords  Capability = "drill:records"
	AlertSend     Capability = "alert:send"
	AlertDismiss  Capability = "alert:dismiss"
	AlertRead     Capability = "alert:read"
	AlertExpire   Capability = "alert:expire"
	RosterManage  Capability = "roster:manage"
	RosterView    Capability = "roster:view"
	ModuleRecord  Capability = "module:record"
	ModuleView    Capability = "module:view"
	RealtimeRelay Capability = "realtime:relay"
	DashboardView Capability = "dashboard:view"
)

var grants = map[string]map[Capability]bool{
	auth.RoleAdmin: set(
		DrillManage, DrillOverride, DrillView, DrillRecords,
		AlertSend, AlertDismiss, AlertRead,
		RosterManage, RosterView,
		ModuleView, RealtimeRelay, DashboardView,
	),
	auth.RoleStaff: set(
		DrillManage, DrillOverride, DrillView, DrillRecords,
		AlertSend, AlertDismiss, AlertRead,
		RosterView,
		ModuleView, RealtimeRelay, DashboardView,
	),
	auth.RoleStudent: set(
		DrillCheckIn, DrillView,
		AlertRead,
		ModuleRecord, ModuleView, DashboardView,
	),
	auth.RoleSystem: set(AlertExpire, DrillView, AlertRead),
}

func set(caps ...Capability) map[Capability]bool {
	out := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		out[c] = true
	}
	return out
}

func Can(id auth.Identity, c Capability) bool {
	return grants[id.Role][c]
}

// Require returns a Forbidden error when the identity lacks the capability.
func Require(id auth.Identity, c Capability) error {
	if id.UserID == "" || id.SchoolID == "" {
		return apperr.Unauthorized(apperr.CodeMissingToken, "missing identity")
	}
	if !Can(id, c) {
		return apperr.Forbidden(apperr.CodeForbidden, "role "+id.Role+" may not "+string(c))
	}
	return nil
}

// RequireSelfOrStaff allows staff roles, or the user acting on their own id.
func RequireSelfOrStaff(id auth.Identity, c Capability, userID string) error {
	if err := Require(id, c); err != nil {
		return err
	}
	if id.IsStaff() || id.Role == auth.RoleSystem || id.UserID == userID {
		return nil
	}
	return apperr.Forbidden(apperr.CodeForbidden, "cannot act on another user")
}
