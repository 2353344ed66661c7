package seed

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/config"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/repository"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

var DefaultLocations = []string{"前台", "服务台", "小黑屋"}

// DefaultShifts 是每个地点每天的基本班次及其最低人数要求
var DefaultShifts = []domain.CoverageRequirement{
	{StartTime: "09:00:00", EndTime: "12:00:00", RequiredNumber: 2},
	{StartTime: "13:30:00", EndTime: "18:00:00", RequiredNumber: 2},
	{StartTime: "19:00:00", EndTime: "21:00:00", RequiredNumber: 1},
}

// SeedDemoData 构造一套可以直接演示协同编辑的完整数据：
// 地点、员工及其技能、未来一周的空闲时段和人力要求，再加上第一天的排班表
func SeedDemoData(cfg *config.Config, r *repository.Repository, staffCount int, days int) {
	// 插入地点
	locations := make([]*domain.Location, 0, len(DefaultLocations))
	for _, name := range DefaultLocations {
		location := &domain.Location{Name: name}
		if err := r.CreateLocation(location); err != nil {
			slog.Error("插入地点失败", "name", name, "error", err)
			return
		}
		locations = append(locations, location)
	}

	// 插入员工
	staff := make([]*domain.StaffMember, 0, staffCount)
	for i := 0; i < staffCount; i++ {
		member := utils.GenerateRandomStaffMember(cfg.Email.UserDomain)
		if err := r.CreateStaffMember(member); err != nil {
			slog.Error("插入员工失败", "error", err)
			continue
		}
		staff = append(staff, member)
	}

	if len(staff) == 0 {
		slog.Error("没有插入任何员工，终止")
		return
	}

	// 为每个员工登记未来若干天的空闲时段
	today := time.Now()
	for _, member := range staff {
		for day := 0; day < days; day++ {
			date := today.AddDate(0, 0, day).Format("2006-01-02")
			startTime, endTime := utils.GenerateRandomTimeWindow(9, 21)

			window := &domain.AvailabilityWindow{
				StaffID:   member.ID,
				Date:      date,
				StartTime: startTime,
				EndTime:   endTime,
			}
			if err := r.CreateAvailabilityWindow(window); err != nil {
				slog.Error("插入空闲时段失败", "staffID", member.ID, "error", err)
			}
		}
	}

	// 为每个地点登记未来若干天的人力要求
	for _, location := range locations {
		for day := 0; day < days; day++ {
			date := today.AddDate(0, 0, day).Format("2006-01-02")
			for _, shift := range DefaultShifts {
				requirement := &domain.CoverageRequirement{
					LocationID:     location.ID,
					Date:           date,
					StartTime:      shift.StartTime,
					EndTime:        shift.EndTime,
					RequiredNumber: shift.RequiredNumber,
					RequiredSkills: make([]string, 0),
				}
				if err := r.CreateCoverageRequirement(requirement); err != nil {
					slog.Error("插入人力要求失败", "locationID", location.ID, "error", err)
				}
			}
		}
	}

	// 为第一天排一部分班，剩下的缺口留给协同编辑演示
	date := today.Format("2006-01-02")
	for _, location := range locations {
		for _, shift := range DefaultShifts {
			member := staff[rand.Intn(len(staff))]
			entry := &domain.ScheduleEntryState{
				StaffID:    member.ID,
				LocationID: location.ID,
				Date:       date,
				StartTime:  shift.StartTime,
				EndTime:    shift.EndTime,
				Position:   location.Name,
			}
			if _, err := r.CreateScheduleEntry(entry); err != nil {
				slog.Error("插入排班失败", "locationID", location.ID, "error", err)
			}
		}
	}

	slog.Info("插入演示数据完成", "locations", len(locations), "staff", len(staff), "days", days)
}
