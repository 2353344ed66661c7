package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func ParseClock(value string) (time.Time, error) {
	return time.Parse("15:04:05", value)
}

func ParseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

// 两个左闭右开时间段 [s1,e1) 和 [s2,e2) 相交当且仅当 s1 < e2 且 s2 < e1，
// 冲突检测和消解方案生成都必须使用这同一个判定
func TimeWindowsOverlap(start1, end1, start2, end2 string) bool {
	s1, err := ParseClock(start1)
	if err != nil {
		return false
	}
	e1, err := ParseClock(end1)
	if err != nil {
		return false
	}
	s2, err := ParseClock(start2)
	if err != nil {
		return false
	}
	e2, err := ParseClock(end2)
	if err != nil {
		return false
	}

	return s1.Before(e2) && s2.Before(e1)
}

// 判断 [innerStart,innerEnd) 是否完整落在 [outerStart,outerEnd) 内
func TimeWindowContains(outerStart, outerEnd, innerStart, innerEnd string) bool {
	os, err := ParseClock(outerStart)
	if err != nil {
		return false
	}
	oe, err := ParseClock(outerEnd)
	if err != nil {
		return false
	}
	is, err := ParseClock(innerStart)
	if err != nil {
		return false
	}
	ie, err := ParseClock(innerEnd)
	if err != nil {
		return false
	}

	return !is.Before(os) && !oe.Before(ie)
}

func ValidateEntryState(state *domain.ScheduleEntryState) error {
	if state == nil {
		return errors.New("排班数据不能为空")
	}
	if state.StaffID <= 0 {
		return errors.New("员工 ID 无效")
	}
	if state.LocationID <= 0 {
		return errors.New("地点 ID 无效")
	}
	if _, err := ParseDate(state.Date); err != nil {
		return fmt.Errorf("日期 %s 格式错误", state.Date)
	}

	startTime, err := ParseClock(state.StartTime)
	if err != nil {
		return fmt.Errorf("开始时间 %s 格式错误", state.StartTime)
	}
	endTime, err := ParseClock(state.EndTime)
	if err != nil {
		return fmt.Errorf("结束时间 %s 格式错误", state.EndTime)
	}
	if !endTime.After(startTime) {
		return errors.New("结束时间必须大于开始时间")
	}

	return nil
}

// 校验一次拟议变更自身是否完整，不涉及任何数据库状态
func ValidateChange(change *domain.ScheduleChange) error {
	switch change.Kind {
	case domain.ChangeCreate:
		if change.EntryID != 0 {
			return errors.New("新建排班时不能指定排班 ID")
		}
		return ValidateEntryState(change.New)
	case domain.ChangeUpdate, domain.ChangeReschedule:
		if change.EntryID <= 0 {
			return errors.New("排班 ID 无效")
		}
		return ValidateEntryState(change.New)
	case domain.ChangeDelete:
		if change.EntryID <= 0 {
			return errors.New("排班 ID 无效")
		}
		return nil
	default:
		return fmt.Errorf("不支持的变更类型 %s", change.Kind)
	}
}
