package domain

import "time"

type ConflictKind string

const (
	ConflictOverlap       ConflictKind = "overlap"
	ConflictDoubleBooking ConflictKind = "double_booking"
	ConflictAvailability  ConflictKind = "availability"
	ConflictCoverageGap   ConflictKind = "coverage_gap"
	ConflictSkillMismatch ConflictKind = "skill_mismatch"
)

type ConflictSeverity string

const (
	SeverityCritical ConflictSeverity = "critical"
	SeverityHigh     ConflictSeverity = "high"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityLow      ConflictSeverity = "low"
)

type ConflictDetails struct {
	Description string `json:"description"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Date        string `json:"date"`
	LocationID  int64  `json:"locationID"`
}

// ScheduleConflict 是对一次拟议变更做检测后产生的冲突，
// critical 级别的冲突会直接阻止写入，其余级别只作为警告附带返回
type ScheduleConflict struct {
	ID               string                `json:"id"`
	Kind             ConflictKind          `json:"kind"`
	Severity         ConflictSeverity      `json:"severity"`
	AffectedEntryIDs []int64               `json:"affectedEntryIDs"`
	AffectedStaffIDs []int64               `json:"affectedStaffIDs"`
	Details          ConflictDetails       `json:"details"`
	Resolutions      []*ConflictResolution `json:"resolutions"`
	AutoResolvable   bool                  `json:"autoResolvable"`
	CreatedAt        time.Time             `json:"createdAt"`
}

type ResolutionKind string

const (
	ResolutionReschedule  ResolutionKind = "reschedule"
	ResolutionReassign    ResolutionKind = "reassign"
	ResolutionSplitShift  ResolutionKind = "split_shift"
	ResolutionAddCoverage ResolutionKind = "add_coverage"
	ResolutionCancel      ResolutionKind = "cancel"
)

type ResolutionImpact struct {
	AffectedSchedules int     `json:"affectedSchedules"`
	CostChange        float64 `json:"costChange"`
	CoverageChange    int     `json:"coverageChange"`
	StaffSatisfaction float64 `json:"staffSatisfaction"`
}

type ResolutionStep struct {
	Action  string              `json:"action"`
	EntryID int64               `json:"entryID,omitempty"` // 为 0 时表示这一步是新建排班
	NewData *ScheduleEntryState `json:"newData,omitempty"`
}

// ConflictResolution 是针对某个冲突的一个候选修复方案。
// Confidence 只是排序信号，不保证方案安全；超过配置的阈值才允许被后台自动应用
type ConflictResolution struct {
	ID            string           `json:"id"`
	ConflictID    string           `json:"conflictID"`
	Kind          ResolutionKind   `json:"kind"`
	Description   string           `json:"description"`
	Impact        ResolutionImpact `json:"impact"`
	Steps         []ResolutionStep `json:"steps"`
	Confidence    float64          `json:"confidence"`
	EstimatedTime string           `json:"estimatedTime"`
}
