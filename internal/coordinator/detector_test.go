package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func deleteChange(entry *domain.ScheduleEntry) *domain.ScheduleChange {
	return &domain.ScheduleChange{
		Kind:       domain.ChangeDelete,
		EntryID:    entry.ID,
		StaffID:    entry.StaffID,
		LocationID: entry.LocationID,
		Previous:   &entry.ScheduleEntryState,
	}
}

func TestDetectCoverageGapSeverity(t *testing.T) {
	tests := []struct {
		name           string
		requiredNumber int32
		otherEntries   int
		expected       domain.ConflictSeverity
	}{
		{"删除后无人在岗", 1, 0, domain.SeverityCritical},
		{"缺口达到两人", 3, 1, domain.SeverityHigh},
		{"缺一人", 2, 1, domain.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			entry := store.addEntry(domain.ScheduleEntryState{
				StaffID: 1, LocationID: 1,
				Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
			})
			for i := 0; i < tt.otherEntries; i++ {
				store.addEntry(domain.ScheduleEntryState{
					StaffID: int64(10 + i), LocationID: 1,
					Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
				})
			}
			store.requirements = append(store.requirements, &domain.CoverageRequirement{
				LocationID: 1, Date: "2026-09-01",
				StartTime: "09:00:00", EndTime: "12:00:00",
				RequiredNumber: tt.requiredNumber, RequiredSkills: []string{},
			})

			c := newTestCoordinator(store)
			conflicts, err := c.detectCoverageGaps(deleteChange(entry))
			require.NoError(t, err)
			require.Len(t, conflicts, 1)
			assert.Equal(t, domain.ConflictCoverageGap, conflicts[0].Kind)
			assert.Equal(t, tt.expected, conflicts[0].Severity)
			assert.False(t, conflicts[0].AutoResolvable)
		})
	}
}

func TestDetectCoverageGapSatisfiedRequirement(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 2, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	store.requirements = append(store.requirements, &domain.CoverageRequirement{
		LocationID: 1, Date: "2026-09-01",
		StartTime: "09:00:00", EndTime: "12:00:00",
		RequiredNumber: 1, RequiredSkills: []string{},
	})

	c := newTestCoordinator(store)
	conflicts, err := c.detectCoverageGaps(deleteChange(entry))
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestDetectSkillMismatch(t *testing.T) {
	store := newFakeStore()
	store.staff = append(store.staff,
		&domain.StaffMember{ID: 1, FullName: "张三", Skills: []string{"前台接待"}, IsActive: true},
		&domain.StaffMember{ID: 2, FullName: "李四", Skills: []string{"前台接待", "网络调试"}, IsActive: true},
	)
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 2, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	store.requirements = append(store.requirements, &domain.CoverageRequirement{
		LocationID: 1, Date: "2026-09-01",
		StartTime: "09:00:00", EndTime: "18:00:00",
		RequiredNumber: 1, RequiredSkills: []string{"网络调试"},
	})

	c := newTestCoordinator(store)
	change := &domain.ScheduleChange{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}

	conflict, err := c.detectSkillMismatch(change)
	require.NoError(t, err)
	require.NotNil(t, conflict)

	assert.Equal(t, domain.ConflictSkillMismatch, conflict.Kind)
	assert.Equal(t, domain.SeverityMedium, conflict.Severity)
	// 技能不匹配是唯一预标记为可自动消解的冲突类型
	assert.True(t, conflict.AutoResolvable)

	// 李四技能满足且申报过可用时间，首选方案应当超过自动消解阈值
	require.NotEmpty(t, conflict.Resolutions)
	best := conflict.Resolutions[0]
	assert.Equal(t, domain.ResolutionReassign, best.Kind)
	assert.Greater(t, best.Confidence, 0.9)
	require.Len(t, best.Steps, 2)
	require.NotNil(t, best.Steps[1].NewData)
	assert.Equal(t, int64(2), best.Steps[1].NewData.StaffID)
}

func TestDetectSkillMismatchQualifiedStaff(t *testing.T) {
	store := newFakeStore()
	store.staff = append(store.staff,
		&domain.StaffMember{ID: 1, FullName: "张三", Skills: []string{"网络调试", "前台接待"}, IsActive: true},
	)
	store.requirements = append(store.requirements, &domain.CoverageRequirement{
		LocationID: 1, Date: "2026-09-01",
		StartTime: "09:00:00", EndTime: "18:00:00",
		RequiredNumber: 1, RequiredSkills: []string{"网络调试"},
	})

	c := newTestCoordinator(store)
	change := &domain.ScheduleChange{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}

	conflict, err := c.detectSkillMismatch(change)
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestDetectAvailabilityRequiresContainingWindow(t *testing.T) {
	store := newFakeStore()
	// 申报窗口只盖住了前半段
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "09:00:00", EndTime: "11:00:00",
	})

	c := newTestCoordinator(store)
	change := &domain.ScheduleChange{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}

	conflict, err := c.detectAvailability(change)
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, domain.ConflictAvailability, conflict.Kind)
	assert.Equal(t, domain.SeverityHigh, conflict.Severity)

	// 补全窗口后不再报冲突
	store.availability[0].EndTime = "12:00:00"
	conflict, err = c.detectAvailability(change)
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestResolverAlwaysReturnsFallback(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	conflict := &domain.ScheduleConflict{
		ID:   "conflict_test",
		Kind: domain.ConflictAvailability,
	}
	change := &domain.ScheduleChange{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}

	// 没有任何候选数据时至少给出一个撤销建议
	resolutions, err := c.resolver.GenerateResolutions(conflict, change)
	require.NoError(t, err)
	require.Len(t, resolutions, 1)
	assert.Equal(t, domain.ResolutionCancel, resolutions[0].Kind)
}
