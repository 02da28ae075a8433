// Package domain defines shared domain constants, types and store contracts.
package domain

const (
	// RoleOwner represents the bot owner with the highest privileges.
	RoleOwner = "owner"
	// RoleAdmin represents elevated administrators below the owner.
	RoleAdmin = "admin"
	// RoleUser represents a standard user with no elevated privileges.
	RoleUser = "user"
)

// Role priorities; higher values carry more privileges.
const (
	RolePriorityUser  = 1
	RolePriorityAdmin = 2
	RolePriorityOwner = 3
)

// RolePriority ranks role for privilege comparisons. Unknown roles rank 0.
func RolePriority(role string) int {
	switch role {
	case RoleOwner:
		return RolePriorityOwner
	case RoleAdmin:
		return RolePriorityAdmin
	case RoleUser:
		return RolePriorityUser
	default:
		return 0
	}
}

// IsPrivileged reports whether role is admin or above.
func IsPrivileged(role string) bool {
	return RolePriority(role) >= RolePriorityAdmin
}
