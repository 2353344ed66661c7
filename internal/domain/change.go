package domain

import "time"

type ChangeKind string

const (
	ChangeCreate     ChangeKind = "create"
	ChangeUpdate     ChangeKind = "update"
	ChangeDelete     ChangeKind = "delete"
	ChangeReschedule ChangeKind = "reschedule"
)

// RequiredPermission 返回执行该类变更所需要的权限，未知类型返回空字符串
func (k ChangeKind) RequiredPermission() string {
	switch k {
	case ChangeCreate:
		return PermissionCreate
	case ChangeUpdate, ChangeReschedule:
		return PermissionUpdate
	case ChangeDelete:
		return PermissionDelete
	default:
		return ""
	}
}

// ScheduleChange 是一次排班变更，追加进变更日志后不可再修改
type ScheduleChange struct {
	ID         string              `json:"id"`
	Kind       ChangeKind          `json:"kind"`
	EntryID    int64               `json:"entryID"` // create 时为 0，应用成功后回填
	StaffID    int64               `json:"staffID"`
	LocationID int64               `json:"locationID"`
	Previous   *ScheduleEntryState `json:"previous,omitempty"` // update/delete/reschedule 回滚时还原用
	New        *ScheduleEntryState `json:"new,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
	EditorID   int64               `json:"editorID"`
	Reason     string              `json:"reason,omitempty"`
}

// RollbackOperation 记录一次对已应用变更的回滚，本身也会被广播出去
type RollbackOperation struct {
	ID        string         `json:"operationID"`
	ChangeIDs []string       `json:"changeIDs"`
	Restores  []RollbackItem `json:"restores"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason"`
}

type RollbackItem struct {
	EntryID  int64               `json:"entryID"`
	Previous *ScheduleEntryState `json:"previous"`
}
