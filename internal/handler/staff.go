package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func (h *Handler) GetActiveStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.repository.GetActiveStaffMembers()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取员工列表成功", staff)
}

func (h *Handler) CreateStaffMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string   `json:"fullName" validate:"required"`
		Email    string   `json:"email" validate:"required,email"`
		Skills   []string `json:"skills"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	staff := &domain.StaffMember{
		FullName: req.FullName,
		Email:    req.Email,
		Skills:   req.Skills,
		IsActive: true,
	}
	if staff.Skills == nil {
		staff.Skills = make([]string, 0)
	}

	if err := h.repository.CreateStaffMember(staff); err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.ConstraintName == "staff_members_email_key":
			h.badRequest(w, r, errors.New("邮箱已存在"))
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "员工创建成功", staff)
}

func (h *Handler) GetStaffAvailability(w http.ResponseWriter, r *http.Request) {
	staff := r.Context().Value(StaffCtx).(*domain.StaffMember)

	dateFrom := r.URL.Query().Get("from")
	dateTo := r.URL.Query().Get("to")
	if dateFrom == "" || dateTo == "" {
		// 不带参数时默认查询从今天开始的一周
		now := time.Now()
		dateFrom = now.Format("2006-01-02")
		dateTo = now.AddDate(0, 0, 7).Format("2006-01-02")
	}

	windows, err := h.repository.GetStaffAvailability(staff.ID, dateFrom, dateTo)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取空闲时段成功", windows)
}

func (h *Handler) CreateAvailabilityWindow(w http.ResponseWriter, r *http.Request) {
	staff := r.Context().Value(StaffCtx).(*domain.StaffMember)

	var req struct {
		Date      string `json:"date" validate:"required,datetime=2006-01-02"`
		StartTime string `json:"startTime" validate:"required,datetime=15:04:05"`
		EndTime   string `json:"endTime" validate:"required,datetime=15:04:05"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if req.StartTime >= req.EndTime {
		h.errorResponse(w, r, "开始时间必须早于结束时间")
		return
	}

	window := &domain.AvailabilityWindow{
		StaffID:   staff.ID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}

	if err := h.repository.CreateAvailabilityWindow(window); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "空闲时段登记成功", window)
}

func (h *Handler) GetAllLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.repository.GetAllLocations()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取地点列表成功", locations)
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	location := &domain.Location{Name: req.Name}
	if err := h.repository.CreateLocation(location); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "地点创建成功", location)
}

func (h *Handler) GetLocationEntries(w http.ResponseWriter, r *http.Request) {
	location := r.Context().Value(LocationCtx).(*domain.Location)

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	entries, err := h.repository.GetLocationEntries(location.ID, date)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取排班表成功", entries)
}

func (h *Handler) GetCoverageRequirements(w http.ResponseWriter, r *http.Request) {
	location := r.Context().Value(LocationCtx).(*domain.Location)

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	requirements, err := h.repository.GetCoverageRequirements(location.ID, date)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取人力要求成功", requirements)
}

func (h *Handler) CreateCoverageRequirement(w http.ResponseWriter, r *http.Request) {
	location := r.Context().Value(LocationCtx).(*domain.Location)

	var req struct {
		Date           string   `json:"date" validate:"required,datetime=2006-01-02"`
		StartTime      string   `json:"startTime" validate:"required,datetime=15:04:05"`
		EndTime        string   `json:"endTime" validate:"required,datetime=15:04:05"`
		RequiredNumber int32    `json:"requiredNumber" validate:"required,min=1"`
		RequiredSkills []string `json:"requiredSkills"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if req.StartTime >= req.EndTime {
		h.errorResponse(w, r, "开始时间必须早于结束时间")
		return
	}

	requirement := &domain.CoverageRequirement{
		LocationID:     location.ID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		RequiredNumber: req.RequiredNumber,
		RequiredSkills: req.RequiredSkills,
	}
	if requirement.RequiredSkills == nil {
		requirement.RequiredSkills = make([]string, 0)
	}

	if err := h.repository.CreateCoverageRequirement(requirement); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "人力要求创建成功", requirement)
}
