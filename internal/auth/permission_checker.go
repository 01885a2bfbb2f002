package auth

import "context"

const PermissionAdmin = "admin"

type PermissionChecker interface {
	HasPermission(ctx context.Context, operatorPermissions []string, permission string) (bool, error)
}

// DefaultPermissionChecker grants a permission when the operator holds it
// directly or holds admin.
type DefaultPermissionChecker struct{}

func NewPermissionChecker() *DefaultPermissionChecker {
	return &DefaultPermissionChecker{}
}

func (c *DefaultPermissionChecker) HasPermission(ctx context.Context, operatorPermissions []string, permission string) (bool, error) {
	return c.HasAnyPermission(operatorPermissions, []string{permission, PermissionAdmin}), nil
}

func (c *DefaultPermissionChecker) HasAnyPermission(operatorPermissions []string, requiredPermissions []string) bool {
	for _, have := range operatorPermissions {
		for _, want := range requiredPermissions {
			if have == want {
				return true
			}
		}
	}
	return false
}
