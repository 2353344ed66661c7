package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func TestFindNearestFreeSlot(t *testing.T) {
	store := newFakeStore()
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "10:00:00", EndTime: "12:00:00",
	})
	resolver := NewResolver(store)

	// 拟排 11:00~13:00 与既有排班冲突，最近的等长空闲时段是紧随其后的 12:00~14:00
	slot, err := resolver.findNearestFreeSlot(1, &domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "11:00:00", EndTime: "13:00:00",
	}, 0)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, "12:00:00", slot.start)
	assert.Equal(t, "14:00:00", slot.end)
}

func TestFindNearestFreeSlotDiscardsCrossMidnight(t *testing.T) {
	store := newFakeStore()
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "20:00:00", EndTime: "23:00:00",
	})
	resolver := NewResolver(store)

	// 紧随其后的候选 23:00~01:00 会跨天，只剩紧贴其前的 18:00~20:00
	slot, err := resolver.findNearestFreeSlot(1, &domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "21:00:00", EndTime: "23:00:00",
	}, 0)
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, "18:00:00", slot.start)
	assert.Equal(t, "20:00:00", slot.end)
}

func TestFindNearestDeclaredWindow(t *testing.T) {
	store := newFakeStore()
	store.availability = append(store.availability,
		&domain.AvailabilityWindow{StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "10:00:00"},
		&domain.AvailabilityWindow{StaffID: 1, Date: "2026-09-01", StartTime: "14:00:00", EndTime: "20:00:00"},
	)
	resolver := NewResolver(store)

	// 拟排 11:00~14:00 时长 3 小时，只有下午的窗口装得下
	window, start, end, err := resolver.findNearestDeclaredWindow(1, &domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "11:00:00", EndTime: "14:00:00",
	})
	require.NoError(t, err)
	require.NotNil(t, window)
	assert.Equal(t, "14:00:00", start)
	assert.Equal(t, "17:00:00", end)
}

func TestGenerateResolutionsSortedByConfidence(t *testing.T) {
	store := newFakeStore()
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "10:00:00", EndTime: "12:00:00",
	})
	store.staff = append(store.staff,
		&domain.StaffMember{ID: 2, FullName: "李四", Skills: []string{}, IsActive: true},
	)
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 2, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	resolver := NewResolver(store)

	conflict := &domain.ScheduleConflict{ID: "conflict_test", Kind: domain.ConflictOverlap}
	change := &domain.ScheduleChange{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "11:00:00", EndTime: "13:00:00",
		},
	}

	// 既能改时段也能改派，两个方案都应生成且按置信度降序
	resolutions, err := resolver.GenerateResolutions(conflict, change)
	require.NoError(t, err)
	require.Len(t, resolutions, 2)
	assert.Equal(t, domain.ResolutionReschedule, resolutions[0].Kind)
	assert.Equal(t, domain.ResolutionReassign, resolutions[1].Kind)
	assert.GreaterOrEqual(t, resolutions[0].Confidence, resolutions[1].Confidence)
}
