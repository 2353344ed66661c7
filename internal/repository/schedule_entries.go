package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

func (r *Repository) GetScheduleEntry(id int64) (*domain.ScheduleEntry, error) {
	query := `
		SELECT staff_id, location_id, work_date, start_time, end_time, position, created_at, version
		FROM schedule_entries WHERE id = $1
	`

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	entry := &domain.ScheduleEntry{
		ID: id,
	}

	dst := []any{&entry.StaffID, &entry.LocationID, &entry.Date, &entry.StartTime, &entry.EndTime, &entry.Position, &entry.CreatedAt, &entry.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, id).Scan(dst...); err != nil {
		return nil, err
	}

	return entry, nil
}

// 查询某个员工某天的其他排班是否和 [startTime, endTime) 重叠，
// excludeEntryID 用于在更新时排除正在被修改的那条排班
func (r *Repository) CheckScheduleConflicts(staffID int64, date string, startTime string, endTime string, excludeEntryID int64) (*domain.ScheduleConflictCheck, error) {
	query := `
		SELECT id, staff_id, location_id, work_date, start_time, end_time, position, created_at, version
		FROM schedule_entries
		WHERE staff_id = $1 AND work_date = $2 AND id <> $3
		ORDER BY start_time
	`

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, staffID, date, excludeEntryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	check := &domain.ScheduleConflictCheck{
		ConflictingEntries: make([]*domain.ScheduleEntry, 0),
	}

	for rows.Next() {
		entry := &domain.ScheduleEntry{}
		dst := []any{&entry.ID, &entry.StaffID, &entry.LocationID, &entry.Date, &entry.StartTime, &entry.EndTime, &entry.Position, &entry.CreatedAt, &entry.Version}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}

		// 重叠判定必须和冲突检测用的是同一个谓词
		if utils.TimeWindowsOverlap(startTime, endTime, entry.StartTime, entry.EndTime) {
			check.ConflictingEntries = append(check.ConflictingEntries, entry)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	check.ConflictExists = len(check.ConflictingEntries) > 0

	return check, nil
}

func (r *Repository) GetLocationEntries(locationID int64, date string) ([]*domain.ScheduleEntry, error) {
	query := `
		SELECT id, staff_id, location_id, work_date, start_time, end_time, position, created_at, version
		FROM schedule_entries
		WHERE location_id = $1 AND work_date = $2
		ORDER BY start_time
	`

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, locationID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.ScheduleEntry, 0)
	for rows.Next() {
		entry := &domain.ScheduleEntry{}
		dst := []any{&entry.ID, &entry.StaffID, &entry.LocationID, &entry.Date, &entry.StartTime, &entry.EndTime, &entry.Position, &entry.CreatedAt, &entry.Version}
		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *Repository) CreateScheduleEntry(state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		INSERT INTO schedule_entries (staff_id, location_id, work_date, start_time, end_time, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, version
	`

	entry := &domain.ScheduleEntry{
		ScheduleEntryState: *state,
	}

	args := []any{state.StaffID, state.LocationID, state.Date, state.StartTime, state.EndTime, state.Position}
	if err := r.dbpool.QueryRowContext(ctx, query, args...).Scan(&entry.ID, &entry.CreatedAt, &entry.Version); err != nil {
		return nil, err
	}

	return entry, nil
}

// 更新一条排班并返回更新前的状态，回滚依赖这个返回值
func (r *Repository) UpdateScheduleEntry(entryID int64, state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	prior := &domain.ScheduleEntry{
		ID: entryID,
	}

	query := `
		SELECT staff_id, location_id, work_date, start_time, end_time, position, created_at, version
		FROM schedule_entries WHERE id = $1
		FOR UPDATE
	`
	dst := []any{&prior.StaffID, &prior.LocationID, &prior.Date, &prior.StartTime, &prior.EndTime, &prior.Position, &prior.CreatedAt, &prior.Version}
	if err := tx.QueryRowContext(ctx, query, entryID).Scan(dst...); err != nil {
		return nil, err
	}

	query = `
		UPDATE schedule_entries
		SET
			staff_id = $1,
			location_id = $2,
			work_date = $3,
			start_time = $4,
			end_time = $5,
			position = $6,
			version = version + 1
		WHERE id = $7
	`
	args := []any{state.StaffID, state.LocationID, state.Date, state.StartTime, state.EndTime, state.Position, entryID}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return prior, nil
}

// 删除一条排班并返回删除前的状态
func (r *Repository) DeleteScheduleEntry(entryID int64) (*domain.ScheduleEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		DELETE FROM schedule_entries WHERE id = $1
		RETURNING staff_id, location_id, work_date, start_time, end_time, position, created_at, version
	`

	prior := &domain.ScheduleEntry{
		ID: entryID,
	}

	dst := []any{&prior.StaffID, &prior.LocationID, &prior.Date, &prior.StartTime, &prior.EndTime, &prior.Position, &prior.CreatedAt, &prior.Version}
	if err := r.dbpool.QueryRowContext(ctx, query, entryID).Scan(dst...); err != nil {
		return nil, err
	}

	return prior, nil
}
