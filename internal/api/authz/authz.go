package authz

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

const (
	RoleMember  = "member"
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// AuthUser is the caller identity forwarded by the upstream auth proxy.
type AuthUser struct {
	ID             string
	Role           string
	HomeFacilityID string
	OrganizationID string
}

type userContextKey struct{}

func ContextWithUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves the AuthUser stored in ctx.
// It returns nil if ctx is nil, if no user is stored, or if the stored value has a different type.
func UserFromContext(ctx context.Context) *AuthUser {
	if ctx == nil {
		return nil
	}

	user, ok := ctx.Value(userContextKey{}).(*AuthUser)
	if !ok {
		return nil
	}

	return user
}

// IsStaff reports whether user holds any staff role.
func IsStaff(user *AuthUser) bool {
	if user == nil {
		return false
	}
	switch strings.ToLower(user.Role) {
	case RoleStaff, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// IsOrganizationAdmin reports whether user is an admin not tied to one facility. Only they
// may act on data that spans facilities, such as a user's global trust level.
func IsOrganizationAdmin(user *AuthUser) bool {
	return user != nil && strings.EqualFold(user.Role, RoleAdmin) && user.HomeFacilityID == ""
}

// RequireFacilityAccess allows staff of the facility, and organization admins without a
// home facility. Members are not facility staff and are always forbidden.
func RequireFacilityAccess(ctx context.Context, facilityID, organizationID string) error {
	user := UserFromContext(ctx)
	if user == nil {
		return ErrUnauthenticated
	}
	if !IsStaff(user) {
		return ErrForbidden
	}
	if user.HomeFacilityID == "" {
		if strings.EqualFold(user.Role, RoleAdmin) && user.OrganizationID != "" && user.OrganizationID == organizationID {
			return nil
		}
		return ErrForbidden
	}
	if user.HomeFacilityID != facilityID {
		return ErrForbidden
	}
	return nil
}

// Authorizer decides who may see booking details such as the booker's name.
type Authorizer interface {
	CanViewBookingDetails(ctx context.Context, user *AuthUser, facilityID, organizationID string) bool
}

// StaffAuthorizer grants booking details to callers with facility access.
type StaffAuthorizer struct{}

func (StaffAuthorizer) CanViewBookingDetails(ctx context.Context, user *AuthUser, facilityID, organizationID string) bool {
	return RequireFacilityAccess(ContextWithUser(ctx, user), facilityID, organizationID) == nil
}
