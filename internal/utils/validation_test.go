package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func TestTimeWindowsOverlap(t *testing.T) {
	tests := []struct {
		name     string
		s1, e1   string
		s2, e2   string
		expected bool
	}{
		{"部分相交", "09:00:00", "12:00:00", "11:00:00", "13:00:00", true},
		{"完全包含", "09:00:00", "18:00:00", "10:00:00", "12:00:00", true},
		{"完全相同", "09:00:00", "12:00:00", "09:00:00", "12:00:00", true},
		{"首尾相接", "09:00:00", "12:00:00", "12:00:00", "14:00:00", false},
		{"互不相交", "09:00:00", "10:00:00", "13:00:00", "14:00:00", false},
		{"格式错误", "九点", "12:00:00", "11:00:00", "13:00:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TimeWindowsOverlap(tt.s1, tt.e1, tt.s2, tt.e2))
			// 判定必须是对称的
			assert.Equal(t, tt.expected, TimeWindowsOverlap(tt.s2, tt.e2, tt.s1, tt.e1))
		})
	}
}

func TestTimeWindowContains(t *testing.T) {
	assert.True(t, TimeWindowContains("08:00:00", "22:00:00", "09:00:00", "12:00:00"))
	assert.True(t, TimeWindowContains("09:00:00", "12:00:00", "09:00:00", "12:00:00"))
	assert.False(t, TimeWindowContains("09:00:00", "11:00:00", "09:00:00", "12:00:00"))
	assert.False(t, TimeWindowContains("10:00:00", "22:00:00", "09:00:00", "12:00:00"))
}

func TestValidateEntryState(t *testing.T) {
	valid := &domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	}
	assert.NoError(t, ValidateEntryState(valid))

	tests := []struct {
		name   string
		mutate func(state *domain.ScheduleEntryState)
	}{
		{"为空", nil},
		{"员工 ID 无效", func(s *domain.ScheduleEntryState) { s.StaffID = 0 }},
		{"地点 ID 无效", func(s *domain.ScheduleEntryState) { s.LocationID = -1 }},
		{"日期格式错误", func(s *domain.ScheduleEntryState) { s.Date = "2026/09/01" }},
		{"开始时间格式错误", func(s *domain.ScheduleEntryState) { s.StartTime = "9:00" }},
		{"结束时间格式错误", func(s *domain.ScheduleEntryState) { s.EndTime = "25:00:00" }},
		{"起止顺序颠倒", func(s *domain.ScheduleEntryState) { s.StartTime, s.EndTime = s.EndTime, s.StartTime }},
		{"起止相同", func(s *domain.ScheduleEntryState) { s.EndTime = s.StartTime }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate == nil {
				assert.Error(t, ValidateEntryState(nil))
				return
			}

			state := *valid
			tt.mutate(&state)
			assert.Error(t, ValidateEntryState(&state))
		})
	}
}

func TestValidateChange(t *testing.T) {
	state := &domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	}

	assert.NoError(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeCreate, New: state}))
	assert.NoError(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeUpdate, EntryID: 1, New: state}))
	assert.NoError(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeReschedule, EntryID: 1, New: state}))
	assert.NoError(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeDelete, EntryID: 1}))

	// create 不允许携带排班 ID，update/delete 必须携带
	assert.Error(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeCreate, EntryID: 1, New: state}))
	assert.Error(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeUpdate, New: state}))
	assert.Error(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeDelete}))
	assert.Error(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeKind("merge")}))

	// 载荷本身也要通过校验
	assert.Error(t, ValidateChange(&domain.ScheduleChange{Kind: domain.ChangeCreate}))
}
