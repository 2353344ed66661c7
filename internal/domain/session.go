package domain

import "time"

const (
	PermissionCreate = "schedule:create"
	PermissionUpdate = "schedule:update"
	PermissionDelete = "schedule:delete"
	PermissionAdmin  = "schedule:admin"
)

type EditorInfo struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Session 表示一个已连接的排班编辑者，由 coordinator 独占管理
type Session struct {
	ID           string     `json:"sessionID"`
	Editor       EditorInfo `json:"editor"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastActivity time.Time  `json:"lastActivity"`
	LocationIDs  []int64    `json:"locationIDs"`
	Permissions  []string   `json:"permissions"`
	IsActive     bool       `json:"isActive"`
}
