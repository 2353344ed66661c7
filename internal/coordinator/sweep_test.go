package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func autoResolvableConflict(id string, entryID int64, confidence float64) *domain.ScheduleConflict {
	newData := &domain.ScheduleEntryState{
		StaffID: 2, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	}
	return &domain.ScheduleConflict{
		ID:             id,
		Kind:           domain.ConflictSkillMismatch,
		Severity:       domain.SeverityMedium,
		AutoResolvable: true,
		Details:        domain.ConflictDetails{LocationID: 1, Date: "2026-09-01"},
		Resolutions: []*domain.ConflictResolution{
			{
				ID:         "resolution_" + id,
				ConflictID: id,
				Kind:       domain.ResolutionReassign,
				Steps: []domain.ResolutionStep{
					{Action: "改派班次", EntryID: entryID, NewData: newData},
				},
				Confidence: confidence,
			},
		},
	}
}

func TestSweepRespectsThreshold(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)
	ch := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, ch))

	// 阈值为 0.9：0.85 不够，必须严格大于
	c.mu.Lock()
	c.conflicts["conflict_low"] = autoResolvableConflict("conflict_low", entry.ID, 0.85)
	c.mu.Unlock()

	c.sweepConflicts()

	assert.Len(t, c.ActiveConflicts(), 1)
	assert.NotContains(t, store.calls, "UpdateScheduleEntry")

	// 0.95 超过阈值，自动应用
	c.mu.Lock()
	delete(c.conflicts, "conflict_low")
	c.conflicts["conflict_high"] = autoResolvableConflict("conflict_high", entry.ID, 0.95)
	c.mu.Unlock()

	c.sweepConflicts()

	assert.Empty(t, c.ActiveConflicts())
	assert.Equal(t, int64(2), store.entries[entry.ID].StaffID)

	// 广播标明由自动消解器处理
	events := ch.eventsOfType(domain.EventConflictResolved)
	require.Len(t, events, 1)
	data := events[0].Data.(map[string]any)
	assert.Equal(t, domain.AutoResolverName, data["resolvedBy"])
}

func TestSweepSkipsNonAutoResolvable(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	conflict := autoResolvableConflict("conflict_manual", entry.ID, 0.95)
	conflict.AutoResolvable = false

	c.mu.Lock()
	c.conflicts[conflict.ID] = conflict
	c.mu.Unlock()

	c.sweepConflicts()

	// 没有预标记为可自动消解的冲突，置信度再高也只能人工处理
	assert.Len(t, c.ActiveConflicts(), 1)
	assert.Equal(t, int64(1), store.entries[entry.ID].StaffID)
}

func TestSweepFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	// 第一个冲突指向不存在的排班，应用必然失败
	c.mu.Lock()
	c.conflicts["conflict_broken"] = autoResolvableConflict("conflict_broken", 999, 0.95)
	c.conflicts["conflict_ok"] = autoResolvableConflict("conflict_ok", entry.ID, 0.95)
	c.mu.Unlock()

	c.sweepConflicts()

	// 失败的留在活跃集合里，正常的照样被消解
	remaining := c.ActiveConflicts()
	require.Len(t, remaining, 1)
	assert.Equal(t, "conflict_broken", remaining[0].ID)
	assert.Equal(t, int64(2), store.entries[entry.ID].StaffID)
}

func TestBestResolutionPicksHighestConfidence(t *testing.T) {
	conflict := &domain.ScheduleConflict{
		Resolutions: []*domain.ConflictResolution{
			{ID: "a", Confidence: 0.5},
			{ID: "b", Confidence: 0.8},
			{ID: "c", Confidence: 0.6},
		},
	}

	best := bestResolution(conflict)
	require.NotNil(t, best)
	assert.Equal(t, "b", best.ID)

	assert.Nil(t, bestResolution(&domain.ScheduleConflict{}))
}
