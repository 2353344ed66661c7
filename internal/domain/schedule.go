package domain

import "time"

// ScheduleEntryState 是一条排班记录中可以被修改（以及回滚时需要还原）的部分
type ScheduleEntryState struct {
	StaffID    int64  `json:"staffID"`
	LocationID int64  `json:"locationID"`
	Date       string `json:"date"`      // 2006-01-02
	StartTime  string `json:"startTime"` // 15:04:05
	EndTime    string `json:"endTime"`
	Position   string `json:"position"`
}

type ScheduleEntry struct {
	ID int64 `json:"id"`
	ScheduleEntryState
	CreatedAt time.Time `json:"createdAt"`
	Version   int32     `json:"-"`
}

type StaffMember struct {
	ID       int64    `json:"id"`
	FullName string   `json:"fullName"`
	Email    string   `json:"email"`
	Skills   []string `json:"skills"`
	IsActive bool     `json:"isActive"`
}

type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AvailabilityWindow 是员工自行申报的某天可上班的时间段
type AvailabilityWindow struct {
	ID        int64  `json:"id"`
	StaffID   int64  `json:"staffID"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// CoverageRequirement 是某个地点某个时间段的最低人力要求
type CoverageRequirement struct {
	ID             int64    `json:"id"`
	LocationID     int64    `json:"locationID"`
	Date           string   `json:"date"`
	StartTime      string   `json:"startTime"`
	EndTime        string   `json:"endTime"`
	RequiredNumber int32    `json:"requiredNumber"`
	RequiredSkills []string `json:"requiredSkills"`
}

// ScheduleConflictCheck 是重叠检查的查询结果
type ScheduleConflictCheck struct {
	ConflictExists     bool             `json:"conflictExists"`
	ConflictingEntries []*ScheduleEntry `json:"conflictingEntries"`
}
