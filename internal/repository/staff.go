package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

func (r *Repository) GetActiveStaffMembers() ([]*domain.StaffMember, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT
			sm.id,
			sm.full_name,
			sm.email,
			sm.is_active,
			sms.skill
		FROM staff_members sm
		LEFT JOIN staff_member_skills sms ON sm.id = sms.staff_id
		WHERE sm.is_active = TRUE
		ORDER BY sm.id
	`

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	staffMap := make(map[int64]*domain.StaffMember)
	order := make([]int64, 0)

	for rows.Next() {
		var row struct {
			ID       int64
			FullName string
			Email    string
			IsActive bool
			Skill    sql.NullString
		}

		dst := []any{&row.ID, &row.FullName, &row.Email, &row.IsActive, &row.Skill}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}

		if _, exists := staffMap[row.ID]; !exists {
			// 说明此时是第一次查到这个员工，需要在 map 中初始化
			staffMap[row.ID] = &domain.StaffMember{
				ID:       row.ID,
				FullName: row.FullName,
				Email:    row.Email,
				Skills:   make([]string, 0),
				IsActive: row.IsActive,
			}
			order = append(order, row.ID)
		}

		// 如果 skill 为空，则表示这个员工没有登记任何技能，跳过技能解析
		if !row.Skill.Valid {
			continue
		}

		staffMap[row.ID].Skills = append(staffMap[row.ID].Skills, row.Skill.String)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	staff := make([]*domain.StaffMember, 0, len(order))
	for _, id := range order {
		staff = append(staff, staffMap[id])
	}

	return staff, nil
}

func (r *Repository) GetStaffMember(id int64) (*domain.StaffMember, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	staff := &domain.StaffMember{}

	query := `
		SELECT id, full_name, email, is_active FROM staff_members WHERE id = $1
	`
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(&staff.ID, &staff.FullName, &staff.Email, &staff.IsActive); err != nil {
		return nil, err
	}

	query = `
		SELECT skill FROM staff_member_skills WHERE staff_id = $1
	`
	rows, err := r.dbpool.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	staff.Skills = make([]string, 0)
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, err
		}
		staff.Skills = append(staff.Skills, skill)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return staff, nil
}

func (r *Repository) CreateStaffMember(staff *domain.StaffMember) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO staff_members (full_name, email, is_active)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, staff.FullName, staff.Email, staff.IsActive).Scan(&staff.ID); err != nil {
		return err
	}

	for _, skill := range staff.Skills {
		query = `
			INSERT INTO staff_member_skills (staff_id, skill)
			VALUES ($1, $2)
		`
		if _, err := tx.ExecContext(ctx, query, staff.ID, skill); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetStaffAvailability(staffID int64, dateFrom string, dateTo string) ([]*domain.AvailabilityWindow, error) {
	query := `
		SELECT id, staff_id, avail_date, start_time, end_time
		FROM availability_windows
		WHERE staff_id = $1 AND avail_date >= $2 AND avail_date <= $3
		ORDER BY avail_date, start_time
	`

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, staffID, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	windows := make([]*domain.AvailabilityWindow, 0)
	for rows.Next() {
		window := &domain.AvailabilityWindow{}
		dst := []any{&window.ID, &window.StaffID, &window.Date, &window.StartTime, &window.EndTime}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return windows, nil
}

func (r *Repository) CreateAvailabilityWindow(window *domain.AvailabilityWindow) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		INSERT INTO availability_windows (staff_id, avail_date, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	args := []any{window.StaffID, window.Date, window.StartTime, window.EndTime}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&window.ID); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetCoverageRequirements(locationID int64, date string) ([]*domain.CoverageRequirement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT
			cr.id,
			cr.location_id,
			cr.req_date,
			cr.start_time,
			cr.end_time,
			cr.required_number,
			crs.skill
		FROM coverage_requirements cr
		LEFT JOIN coverage_requirement_skills crs ON cr.id = crs.requirement_id
		WHERE cr.location_id = $1 AND cr.req_date = $2
		ORDER BY cr.id
	`

	rows, err := r.dbpool.QueryContext(ctx, query, locationID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requirementsMap := make(map[int64]*domain.CoverageRequirement)
	order := make([]int64, 0)

	for rows.Next() {
		var row struct {
			ID             int64
			LocationID     int64
			Date           string
			StartTime      string
			EndTime        string
			RequiredNumber int32
			Skill          sql.NullString
		}

		dst := []any{&row.ID, &row.LocationID, &row.Date, &row.StartTime, &row.EndTime, &row.RequiredNumber, &row.Skill}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}

		if _, exists := requirementsMap[row.ID]; !exists {
			requirementsMap[row.ID] = &domain.CoverageRequirement{
				ID:             row.ID,
				LocationID:     row.LocationID,
				Date:           row.Date,
				StartTime:      row.StartTime,
				EndTime:        row.EndTime,
				RequiredNumber: row.RequiredNumber,
				RequiredSkills: make([]string, 0),
			}
			order = append(order, row.ID)
		}

		if !row.Skill.Valid {
			continue
		}

		requirementsMap[row.ID].RequiredSkills = append(requirementsMap[row.ID].RequiredSkills, row.Skill.String)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	requirements := make([]*domain.CoverageRequirement, 0, len(order))
	for _, id := range order {
		requirements = append(requirements, requirementsMap[id])
	}

	return requirements, nil
}

func (r *Repository) CreateCoverageRequirement(requirement *domain.CoverageRequirement) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO coverage_requirements (location_id, req_date, start_time, end_time, required_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	args := []any{requirement.LocationID, requirement.Date, requirement.StartTime, requirement.EndTime, requirement.RequiredNumber}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&requirement.ID); err != nil {
		return err
	}

	for _, skill := range requirement.RequiredSkills {
		query = `
			INSERT INTO coverage_requirement_skills (requirement_id, skill)
			VALUES ($1, $2)
		`
		if _, err := tx.ExecContext(ctx, query, requirement.ID, skill); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	return nil
}

func (r *Repository) GetAllLocations() ([]*domain.Location, error) {
	query := `
		SELECT id, name FROM locations ORDER BY id
	`

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]*domain.Location, 0)
	for rows.Next() {
		location := &domain.Location{}
		if err := rows.Scan(&location.ID, &location.Name); err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return locations, nil
}

func (r *Repository) GetLocation(id int64) (*domain.Location, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, name FROM locations WHERE id = $1
	`

	location := &domain.Location{}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(&location.ID, &location.Name); err != nil {
		return nil, err
	}

	return location, nil
}

func (r *Repository) CreateLocation(location *domain.Location) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		INSERT INTO locations (name)
		VALUES ($1)
		RETURNING id
	`
	if err := r.dbpool.QueryRowContext(ctx, query, location.Name).Scan(&location.ID); err != nil {
		return err
	}

	return nil
}
