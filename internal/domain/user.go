package domain

import (
	"time"
)

type Role string

const (
	RoleScheduler  Role = "排班员"
	RoleSupervisor Role = "值班主管"
	RoleAdmin      Role = "管理员"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Version      int32     `json:"-"`
}

// 各个角色默认拥有的协同编辑权限，开会话时如果不显式传权限就用这份
func DefaultPermissions(role Role) []string {
	switch role {
	case RoleAdmin:
		return []string{PermissionAdmin}
	case RoleSupervisor:
		return []string{PermissionCreate, PermissionUpdate, PermissionDelete}
	default:
		return []string{PermissionCreate, PermissionUpdate}
	}
}
