package coordinator

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

// Resolver 为检出的冲突生成候选消解方案。
// 候选必须来自实时的排班/可用性/覆盖数据，不允许写死方案，
// 否则后台自动消解可能应用到已经过期的修复
type Resolver struct {
	store ScheduleStore
}

func NewResolver(store ScheduleStore) *Resolver {
	return &Resolver{store: store}
}

// GenerateResolutions 返回按置信度降序排列的候选方案列表，至少会有一个
func (r *Resolver) GenerateResolutions(conflict *domain.ScheduleConflict, change *domain.ScheduleChange) ([]*domain.ConflictResolution, error) {
	var resolutions []*domain.ConflictResolution
	var err error

	switch conflict.Kind {
	case domain.ConflictOverlap:
		resolutions, err = r.generateOverlapResolutions(conflict, change)
	case domain.ConflictAvailability:
		resolutions, err = r.generateAvailabilityResolutions(conflict, change)
	case domain.ConflictSkillMismatch:
		resolutions, err = r.generateSkillMismatchResolutions(conflict, change)
	case domain.ConflictCoverageGap:
		resolutions, err = r.generateCoverageGapResolutions(conflict, change)
	}
	if err != nil {
		return nil, err
	}

	// 兜底方案：什么都生成不出来时至少给一个撤销建议
	if len(resolutions) == 0 {
		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionCancel,
			Description: "暂无可行的自动修复，建议撤销本次变更后人工处理",
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "撤销引起冲突的变更"},
			},
			Confidence:    0.3,
			EstimatedTime: "10 分钟",
		})
	}

	sort.Slice(resolutions, func(i, j int) bool {
		return resolutions[i].Confidence > resolutions[j].Confidence
	})

	return resolutions, nil
}

func (r *Resolver) generateOverlapResolutions(conflict *domain.ScheduleConflict, change *domain.ScheduleChange) ([]*domain.ConflictResolution, error) {
	resolutions := make([]*domain.ConflictResolution, 0)

	// 方案一：把冲突的排班挪到当天最近的空闲时段
	slot, err := r.findNearestFreeSlot(change.StaffID, change.New, change.EntryID)
	if err != nil {
		return nil, err
	}
	if slot != nil {
		newData := *change.New
		newData.StartTime = slot.start
		newData.EndTime = slot.end

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReschedule,
			Description: fmt.Sprintf("将该班次改到当天最近的空闲时段 %s~%s", slot.start, slot.end),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
				StaffSatisfaction: -0.1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "在当天寻找等长的空闲时段"},
				{Action: "把班次改到新时段", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.7,
			EstimatedTime: "5 分钟",
		})
	}

	// 方案二：换一个当前空闲且申报过可用的员工
	candidate, err := r.findReassignCandidate(change.StaffID, change.New, nil)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		newData := *change.New
		newData.StaffID = candidate.ID

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReassign,
			Description: fmt.Sprintf("把该班次改派给 %s", candidate.FullName),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "查找该时段空闲的其他员工"},
				{Action: "把班次改派给候选员工", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.6,
			EstimatedTime: "10 分钟",
		})
	}

	return resolutions, nil
}

func (r *Resolver) generateAvailabilityResolutions(conflict *domain.ScheduleConflict, change *domain.ScheduleChange) ([]*domain.ConflictResolution, error) {
	resolutions := make([]*domain.ConflictResolution, 0)

	// 方案一：把班次挪进该员工申报过的最近的可用窗口
	window, start, end, err := r.findNearestDeclaredWindow(change.StaffID, change.New)
	if err != nil {
		return nil, err
	}
	if window != nil {
		newData := *change.New
		newData.StartTime = start
		newData.EndTime = end

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReschedule,
			Description: fmt.Sprintf("把班次挪进该员工申报的可用时间 %s~%s", start, end),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
				StaffSatisfaction: 0.1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "查找该员工最近的可用窗口"},
				{Action: "把班次改到可用窗口内", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.8,
			EstimatedTime: "5 分钟",
		})
	}

	// 方案二：改派给时段内确实可用的员工
	candidate, err := r.findReassignCandidate(change.StaffID, change.New, nil)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		newData := *change.New
		newData.StaffID = candidate.ID

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReassign,
			Description: fmt.Sprintf("改派给该时段可用的员工 %s", candidate.FullName),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "查找该时段申报过可用时间的员工"},
				{Action: "改派班次", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.6,
			EstimatedTime: "10 分钟",
		})
	}

	return resolutions, nil
}

func (r *Resolver) generateSkillMismatchResolutions(conflict *domain.ScheduleConflict, change *domain.ScheduleChange) ([]*domain.ConflictResolution, error) {
	resolutions := make([]*domain.ConflictResolution, 0)

	requiredSkills, err := r.requiredSkillsFor(change.LocationID, change.New)
	if err != nil {
		return nil, err
	}

	// 优先找技能满足且申报过可用时间的员工，这种改派足够可靠，
	// 置信度给到自动消解阈值以上
	candidate, err := r.findReassignCandidate(change.StaffID, change.New, requiredSkills)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		newData := *change.New
		newData.StaffID = candidate.ID

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReassign,
			Description: fmt.Sprintf("改派给具备所需技能的员工 %s", candidate.FullName),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "查找具备所需技能且空闲的员工"},
				{Action: "改派班次", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.92,
			EstimatedTime: "3 分钟",
		})
		return resolutions, nil
	}

	// 找不到申报过可用时间的，再退一步找只是当前没有排班冲突的
	fallback, err := r.findFreeQualifiedStaff(change.StaffID, change.New, requiredSkills)
	if err != nil {
		return nil, err
	}
	if fallback != nil {
		newData := *change.New
		newData.StaffID = fallback.ID

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionReassign,
			Description: fmt.Sprintf("改派给具备所需技能的员工 %s（未申报可用时间，需先确认）", fallback.FullName),
			Impact: domain.ResolutionImpact{
				AffectedSchedules: 1,
				StaffSatisfaction: -0.1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "向候选员工确认可用性"},
				{Action: "改派班次", EntryID: change.EntryID, NewData: &newData},
			},
			Confidence:    0.72,
			EstimatedTime: "10 分钟",
		})
	}

	return resolutions, nil
}

func (r *Resolver) generateCoverageGapResolutions(conflict *domain.ScheduleConflict, change *domain.ScheduleChange) ([]*domain.ConflictResolution, error) {
	resolutions := make([]*domain.ConflictResolution, 0)

	// 在缺口窗口内找一个可用的员工补位
	gapState := &domain.ScheduleEntryState{
		LocationID: conflict.Details.LocationID,
		Date:       conflict.Details.Date,
		StartTime:  conflict.Details.StartTime,
		EndTime:    conflict.Details.EndTime,
		Position:   change.Previous.Position,
	}

	candidate, err := r.findReassignCandidate(change.StaffID, gapState, nil)
	if err != nil {
		return nil, err
	}
	if candidate != nil {
		newData := *gapState
		newData.StaffID = candidate.ID

		resolutions = append(resolutions, &domain.ConflictResolution{
			ID:          "resolution_" + uuid.NewString(),
			ConflictID:  conflict.ID,
			Kind:        domain.ResolutionAddCoverage,
			Description: fmt.Sprintf("安排 %s 补上缺口时段 %s~%s", candidate.FullName, gapState.StartTime, gapState.EndTime),
			Impact: domain.ResolutionImpact{
				CostChange:     100,
				CoverageChange: 1,
			},
			Steps: []domain.ResolutionStep{
				{Action: "查找缺口时段可用的员工"},
				{Action: "新建补位排班", NewData: &newData},
			},
			Confidence:    0.7,
			EstimatedTime: "10 分钟",
		})
	}

	return resolutions, nil
}

/**********************************************
 * 候选查找
 **********************************************/

type freeSlot struct {
	start string
	end   string
}

// findNearestFreeSlot 在员工当天的排班间隙中找一个等长且离原时段最近的空闲时段
func (r *Resolver) findNearestFreeSlot(staffID int64, state *domain.ScheduleEntryState, excludeEntryID int64) (*freeSlot, error) {
	check, err := r.store.CheckScheduleConflicts(staffID, state.Date, "00:00:00", "23:59:59", excludeEntryID)
	if err != nil {
		return nil, err
	}

	proposedStart, err := utils.ParseClock(state.StartTime)
	if err != nil {
		return nil, err
	}
	proposedEnd, err := utils.ParseClock(state.EndTime)
	if err != nil {
		return nil, err
	}
	duration := proposedEnd.Sub(proposedStart)

	// 候选起点：每条既有排班的结束时间（紧随其后），以及开始时间减去时长（紧贴其前）
	candidates := make([]time.Time, 0, len(check.ConflictingEntries)*2)
	for _, entry := range check.ConflictingEntries {
		entryStart, err := utils.ParseClock(entry.StartTime)
		if err != nil {
			continue
		}
		entryEnd, err := utils.ParseClock(entry.EndTime)
		if err != nil {
			continue
		}
		candidates = append(candidates, entryEnd, entryStart.Add(-duration))
	}

	var best *freeSlot
	var bestDistance time.Duration

	for _, candidateStart := range candidates {
		candidateEnd := candidateStart.Add(duration)
		// 跨天的候选直接丢弃
		if candidateStart.Day() != proposedStart.Day() || candidateEnd.Day() != proposedStart.Day() {
			continue
		}

		start := candidateStart.Format("15:04:05")
		end := candidateEnd.Format("15:04:05")

		free := true
		for _, other := range check.ConflictingEntries {
			if utils.TimeWindowsOverlap(start, end, other.StartTime, other.EndTime) {
				free = false
				break
			}
		}
		if !free {
			continue
		}

		distance := proposedStart.Sub(candidateStart)
		if distance < 0 {
			distance = -distance
		}
		if best == nil || distance < bestDistance {
			best = &freeSlot{start: start, end: end}
			bestDistance = distance
		}
	}

	return best, nil
}

// findNearestDeclaredWindow 找该员工当天能装下这个班次时长、且离原时段最近的申报窗口，
// 返回窗口以及建议的新起止时间
func (r *Resolver) findNearestDeclaredWindow(staffID int64, state *domain.ScheduleEntryState) (*domain.AvailabilityWindow, string, string, error) {
	windows, err := r.store.GetStaffAvailability(staffID, state.Date, state.Date)
	if err != nil {
		return nil, "", "", err
	}

	proposedStart, err := utils.ParseClock(state.StartTime)
	if err != nil {
		return nil, "", "", err
	}
	proposedEnd, err := utils.ParseClock(state.EndTime)
	if err != nil {
		return nil, "", "", err
	}
	duration := proposedEnd.Sub(proposedStart)

	var best *domain.AvailabilityWindow
	var bestStart, bestEnd string
	var bestDistance int64

	for _, window := range windows {
		windowStart, err := utils.ParseClock(window.StartTime)
		if err != nil {
			continue
		}
		windowEnd, err := utils.ParseClock(window.EndTime)
		if err != nil {
			continue
		}
		if windowEnd.Sub(windowStart) < duration {
			continue
		}

		// 尽量贴着原时段放，放不下就贴窗口边缘
		candidate := proposedStart
		if candidate.Before(windowStart) {
			candidate = windowStart
		}
		if candidate.Add(duration).After(windowEnd) {
			candidate = windowEnd.Add(-duration)
		}

		distance := proposedStart.Sub(candidate).Milliseconds()
		if distance < 0 {
			distance = -distance
		}
		if best == nil || distance < bestDistance {
			best = window
			bestStart = candidate.Format("15:04:05")
			bestEnd = candidate.Add(duration).Format("15:04:05")
			bestDistance = distance
		}
	}

	return best, bestStart, bestEnd, nil
}

// findReassignCandidate 找一个满足条件的改派人选：在职、不是当前员工、
// 申报过覆盖整个时段的可用时间、该时段没有别的排班，技能要求（如有）是超集
func (r *Resolver) findReassignCandidate(currentStaffID int64, state *domain.ScheduleEntryState, requiredSkills []string) (*domain.StaffMember, error) {
	staff, err := r.store.GetActiveStaffMembers()
	if err != nil {
		return nil, err
	}

	for _, member := range staff {
		if member.ID == currentStaffID {
			continue
		}
		if !hasAllSkills(member, requiredSkills) {
			continue
		}

		declared, err := r.staffDeclaredAvailable(member.ID, state)
		if err != nil {
			return nil, err
		}
		if !declared {
			continue
		}

		free, err := r.staffIsFree(member.ID, state)
		if err != nil {
			return nil, err
		}
		if free {
			return member, nil
		}
	}

	return nil, nil
}

// findFreeQualifiedStaff 放宽可用性申报的要求，只保证技能满足且没有排班冲突
func (r *Resolver) findFreeQualifiedStaff(currentStaffID int64, state *domain.ScheduleEntryState, requiredSkills []string) (*domain.StaffMember, error) {
	staff, err := r.store.GetActiveStaffMembers()
	if err != nil {
		return nil, err
	}

	for _, member := range staff {
		if member.ID == currentStaffID {
			continue
		}
		if !hasAllSkills(member, requiredSkills) {
			continue
		}

		free, err := r.staffIsFree(member.ID, state)
		if err != nil {
			return nil, err
		}
		if free {
			return member, nil
		}
	}

	return nil, nil
}

func (r *Resolver) staffIsFree(staffID int64, state *domain.ScheduleEntryState) (bool, error) {
	check, err := r.store.CheckScheduleConflicts(staffID, state.Date, state.StartTime, state.EndTime, 0)
	if err != nil {
		return false, err
	}
	return !check.ConflictExists, nil
}

func (r *Resolver) staffDeclaredAvailable(staffID int64, state *domain.ScheduleEntryState) (bool, error) {
	windows, err := r.store.GetStaffAvailability(staffID, state.Date, state.Date)
	if err != nil {
		return false, err
	}

	for _, window := range windows {
		if window.Date == state.Date && utils.TimeWindowContains(window.StartTime, window.EndTime, state.StartTime, state.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) requiredSkillsFor(locationID int64, state *domain.ScheduleEntryState) ([]string, error) {
	requirements, err := r.store.GetCoverageRequirements(locationID, state.Date)
	if err != nil {
		return nil, err
	}

	for _, requirement := range requirements {
		if len(requirement.RequiredSkills) == 0 {
			continue
		}
		if utils.TimeWindowsOverlap(requirement.StartTime, requirement.EndTime, state.StartTime, state.EndTime) {
			return requirement.RequiredSkills, nil
		}
	}
	return nil, nil
}

func hasAllSkills(member *domain.StaffMember, requiredSkills []string) bool {
	for _, skill := range requiredSkills {
		if !slices.Contains(member.Skills, skill) {
			return false
		}
	}
	return true
}
