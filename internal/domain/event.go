package domain

import "time"

type EventType string

const (
	EventScheduleChange   EventType = "schedule_change"
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
	EventBulkUpdate       EventType = "bulk_update"
	EventHeartbeat        EventType = "heartbeat"
)

// 自动消解冲突时广播事件中 resolvedBy 字段使用的标识，用于和人工消解区分
const AutoResolverName = "auto-resolver"

// Event 是广播给所有会话的事件信封，整体可被 JSON 序列化
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionID,omitempty"`
	EditorID  int64     `json:"editorID,omitempty"`
}
