package coordinator

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

// detectConflicts 按固定顺序跑检测流水线：
// 删除只做覆盖缺口检查，其余变更依次做重叠、可用性、技能匹配检查。
// 每个检出的冲突都会先由 resolver 补全候选消解方案再返回。
// 调用方必须持有 c.mu
func (c *Coordinator) detectConflicts(change *domain.ScheduleChange) ([]*domain.ScheduleConflict, error) {
	conflicts := make([]*domain.ScheduleConflict, 0)

	if change.Kind == domain.ChangeDelete {
		coverageConflicts, err := c.detectCoverageGaps(change)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, coverageConflicts...)
		return conflicts, nil
	}

	overlapConflict, err := c.detectOverlap(change)
	if err != nil {
		return nil, err
	}
	if overlapConflict != nil {
		conflicts = append(conflicts, overlapConflict)
	}

	availabilityConflict, err := c.detectAvailability(change)
	if err != nil {
		return nil, err
	}
	if availabilityConflict != nil {
		conflicts = append(conflicts, availabilityConflict)
	}

	skillConflict, err := c.detectSkillMismatch(change)
	if err != nil {
		return nil, err
	}
	if skillConflict != nil {
		conflicts = append(conflicts, skillConflict)
	}

	return conflicts, nil
}

// 同一员工同一天的排班时间段不允许相交，检出即为 critical
func (c *Coordinator) detectOverlap(change *domain.ScheduleChange) (*domain.ScheduleConflict, error) {
	check, err := c.store.CheckScheduleConflicts(change.StaffID, change.New.Date, change.New.StartTime, change.New.EndTime, change.EntryID)
	if err != nil {
		return nil, err
	}
	if !check.ConflictExists {
		return nil, nil
	}

	affectedEntries := make([]int64, 0, len(check.ConflictingEntries)+1)
	if change.EntryID != 0 {
		affectedEntries = append(affectedEntries, change.EntryID)
	}
	for _, entry := range check.ConflictingEntries {
		affectedEntries = append(affectedEntries, entry.ID)
	}

	conflict := &domain.ScheduleConflict{
		ID:               "conflict_" + uuid.NewString(),
		Kind:             domain.ConflictOverlap,
		Severity:         domain.SeverityCritical,
		AffectedEntryIDs: affectedEntries,
		AffectedStaffIDs: []int64{change.StaffID},
		Details: domain.ConflictDetails{
			Description: "排班时间重叠：该员工在同一时间段已有其他排班",
			StartTime:   change.New.StartTime,
			EndTime:     change.New.EndTime,
			Date:        change.New.Date,
			LocationID:  change.LocationID,
		},
		AutoResolvable: false,
		CreatedAt:      time.Now(),
	}

	resolutions, err := c.resolver.GenerateResolutions(conflict, change)
	if err != nil {
		return nil, err
	}
	conflict.Resolutions = resolutions

	return conflict, nil
}

// 员工申报的可用时间里必须有一个窗口完整覆盖拟排的时间段
func (c *Coordinator) detectAvailability(change *domain.ScheduleChange) (*domain.ScheduleConflict, error) {
	windows, err := c.store.GetStaffAvailability(change.StaffID, change.New.Date, change.New.Date)
	if err != nil {
		return nil, err
	}

	isAvailable := false
	for _, window := range windows {
		if window.Date == change.New.Date && utils.TimeWindowContains(window.StartTime, window.EndTime, change.New.StartTime, change.New.EndTime) {
			isAvailable = true
			break
		}
	}
	if isAvailable {
		return nil, nil
	}

	conflict := &domain.ScheduleConflict{
		ID:               "conflict_" + uuid.NewString(),
		Kind:             domain.ConflictAvailability,
		Severity:         domain.SeverityHigh,
		AffectedEntryIDs: affectedEntryIDs(change),
		AffectedStaffIDs: []int64{change.StaffID},
		Details: domain.ConflictDetails{
			Description: "该员工在拟排时间段内没有申报可用时间",
			StartTime:   change.New.StartTime,
			EndTime:     change.New.EndTime,
			Date:        change.New.Date,
			LocationID:  change.LocationID,
		},
		AutoResolvable: false,
		CreatedAt:      time.Now(),
	}

	resolutions, err := c.resolver.GenerateResolutions(conflict, change)
	if err != nil {
		return nil, err
	}
	conflict.Resolutions = resolutions

	return conflict, nil
}

// 拟排时间段如果落在某个有技能要求的覆盖需求里，员工技能必须是要求的超集。
// 技能不匹配是唯一一类检测阶段就预标记为可自动消解的冲突
func (c *Coordinator) detectSkillMismatch(change *domain.ScheduleChange) (*domain.ScheduleConflict, error) {
	requirements, err := c.store.GetCoverageRequirements(change.LocationID, change.New.Date)
	if err != nil {
		return nil, err
	}

	var relevant *domain.CoverageRequirement
	for _, requirement := range requirements {
		if len(requirement.RequiredSkills) == 0 {
			continue
		}
		if utils.TimeWindowsOverlap(requirement.StartTime, requirement.EndTime, change.New.StartTime, change.New.EndTime) {
			relevant = requirement
			break
		}
	}
	if relevant == nil {
		return nil, nil
	}

	staff, err := c.store.GetActiveStaffMembers()
	if err != nil {
		return nil, err
	}

	var member *domain.StaffMember
	for _, candidate := range staff {
		if candidate.ID == change.StaffID {
			member = candidate
			break
		}
	}
	if member == nil {
		// 员工不在在职名单里，留给可用性检查之外的管理流程处理
		return nil, nil
	}

	hasAllSkills := true
	for _, skill := range relevant.RequiredSkills {
		if !slices.Contains(member.Skills, skill) {
			hasAllSkills = false
			break
		}
	}
	if hasAllSkills {
		return nil, nil
	}

	conflict := &domain.ScheduleConflict{
		ID:               "conflict_" + uuid.NewString(),
		Kind:             domain.ConflictSkillMismatch,
		Severity:         domain.SeverityMedium,
		AffectedEntryIDs: affectedEntryIDs(change),
		AffectedStaffIDs: []int64{change.StaffID},
		Details: domain.ConflictDetails{
			Description: fmt.Sprintf("该员工缺少此班次要求的技能（要求：%v）", relevant.RequiredSkills),
			StartTime:   change.New.StartTime,
			EndTime:     change.New.EndTime,
			Date:        change.New.Date,
			LocationID:  change.LocationID,
		},
		AutoResolvable: true,
		CreatedAt:      time.Now(),
	}

	resolutions, err := c.resolver.GenerateResolutions(conflict, change)
	if err != nil {
		return nil, err
	}
	conflict.Resolutions = resolutions

	return conflict, nil
}

// 删除排班前评估会不会把该地点的覆盖打到要求以下。
// 严重程度分级：删除后无人在岗为 critical，缺口 2 人及以上为 high，缺 1 人为 medium
func (c *Coordinator) detectCoverageGaps(change *domain.ScheduleChange) ([]*domain.ScheduleConflict, error) {
	conflicts := make([]*domain.ScheduleConflict, 0)

	requirements, err := c.store.GetCoverageRequirements(change.LocationID, change.Previous.Date)
	if err != nil {
		return nil, err
	}

	entries, err := c.store.GetLocationEntries(change.LocationID, change.Previous.Date)
	if err != nil {
		return nil, err
	}

	for _, requirement := range requirements {
		if !utils.TimeWindowsOverlap(requirement.StartTime, requirement.EndTime, change.Previous.StartTime, change.Previous.EndTime) {
			continue
		}

		// 统计删除后这个需求窗口内还剩多少人
		remaining := 0
		affectedStaff := make([]int64, 0)
		for _, entry := range entries {
			if entry.ID == change.EntryID {
				continue
			}
			if utils.TimeWindowsOverlap(requirement.StartTime, requirement.EndTime, entry.StartTime, entry.EndTime) {
				remaining++
				affectedStaff = append(affectedStaff, entry.StaffID)
			}
		}

		deficit := int(requirement.RequiredNumber) - remaining
		if deficit <= 0 {
			continue
		}

		severity := domain.SeverityMedium
		switch {
		case remaining == 0:
			severity = domain.SeverityCritical
		case deficit >= 2:
			severity = domain.SeverityHigh
		}

		conflict := &domain.ScheduleConflict{
			ID:               "conflict_" + uuid.NewString(),
			Kind:             domain.ConflictCoverageGap,
			Severity:         severity,
			AffectedEntryIDs: []int64{change.EntryID},
			AffectedStaffIDs: append(affectedStaff, change.StaffID),
			Details: domain.ConflictDetails{
				Description: fmt.Sprintf("删除后该时间段在岗人数 %d，低于要求的 %d 人", remaining, requirement.RequiredNumber),
				StartTime:   requirement.StartTime,
				EndTime:     requirement.EndTime,
				Date:        requirement.Date,
				LocationID:  change.LocationID,
			},
			AutoResolvable: false,
			CreatedAt:      time.Now(),
		}

		resolutions, err := c.resolver.GenerateResolutions(conflict, change)
		if err != nil {
			return nil, err
		}
		conflict.Resolutions = resolutions

		conflicts = append(conflicts, conflict)
	}

	return conflicts, nil
}

func affectedEntryIDs(change *domain.ScheduleChange) []int64 {
	if change.EntryID == 0 {
		return []int64{}
	}
	return []int64{change.EntryID}
}
