package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Permission names a single capability. Handlers and services check
// permissions, never raw role names, so access rules live in exactly one
// table below.
type Permission string

const (
	PermIncidentCreate    Permission = "incident.create"
	PermIncidentRead      Permission = "incident.read"
	PermIncidentUpdate    Permission = "incident.update"
	PermIncidentDelete    Permission = "incident.delete"
	PermIncidentApproveL1 Permission = "incident.approve.l1"
	PermIncidentApproveL2 Permission = "incident.approve.l2"
	PermIncidentApproveL3 Permission = "incident.approve.l3"
	PermRiskRead          Permission = "risk.read"
	PermRiskManage        Permission = "risk.manage"
	PermRiskClose         Permission = "risk.close"
	PermCAPARead          Permission = "capa.read"
	PermCAPAManage        Permission = "capa.manage"
	PermCAPAVerify        Permission = "capa.verify"
	PermAuditRead         Permission = "audit.read"
)

// Role names used in JWT claims.
const (
	RoleReporter       = "reporter"
	RoleDeptManager    = "dept_manager"
	RoleQPSCoordinator = "qps_coordinator"
	RoleRiskManager    = "risk_manager"
	RoleDirector       = "director"
	RoleAdmin          = "admin"
)

func permSet(perms ...Permission) map[Permission]bool {
	s := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		s[p] = true
	}
	return s
}

// rolePermissions is the single capability table: role -> set of permissions.
// admin is handled separately in HasPermission and holds everything.
var rolePermissions = map[string]map[Permission]bool{
	RoleReporter: permSet(
		PermIncidentCreate, PermIncidentRead,
	),
	RoleDeptManager: permSet(
		PermIncidentCreate, PermIncidentRead, PermIncidentUpdate,
		PermIncidentApproveL1, PermCAPARead,
	),
	RoleQPSCoordinator: permSet(
		PermIncidentCreate, PermIncidentRead, PermIncidentUpdate,
		PermIncidentApproveL2,
		PermCAPARead, PermCAPAManage, PermCAPAVerify,
		PermRiskRead,
	),
	RoleRiskManager: permSet(
		PermIncidentRead,
		PermRiskRead, PermRiskManage,
		PermCAPARead, PermCAPAManage, PermCAPAVerify,
	),
	RoleDirector: permSet(
		PermIncidentRead, PermIncidentApproveL3,
		PermRiskRead, PermRiskClose,
		PermCAPARead, PermAuditRead,
	),
}

// HasPermission reports whether any of the roles grants the permission.
func HasPermission(roles []string, perm Permission) bool {
	for _, role := range roles {
		if role == RoleAdmin {
			return true
		}
		if rolePermissions[role][perm] {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether any of the roles grants any of the given
// permissions.
func HasAnyPermission(roles []string, perms ...Permission) bool {
	for _, p := range perms {
		if HasPermission(roles, p) {
			return true
		}
	}
	return false
}

// RequirePermission returns middleware that rejects requests whose roles do
// not grant at least one of the given permissions.
func RequirePermission(perms ...Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := RolesFromContext(c.Request().Context())
			if HasAnyPermission(roles, perms...) {
				return next(c)
			}
			names := make([]string, len(perms))
			for i, p := range perms {
				names[i] = string(p)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required permission: %s", strings.Join(names, " or ")))
		}
	}
}

// PermissionFromContext is a convenience for services that gate operations on
// the caller's roles, e.g. closing a risk requires risk.close.
func PermissionFromContext(ctx context.Context, perm Permission) bool {
	return HasPermission(RolesFromContext(ctx), perm)
}
