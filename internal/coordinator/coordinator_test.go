package coordinator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/config"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

/**********************************************
 * 测试替身
 **********************************************/

// fakeStore 用内存 map 模拟存储层，并记录所有调用的方法名，
// 用于断言鉴权失败时不会发生任何存储访问
type fakeStore struct {
	mu           sync.Mutex
	entries      map[int64]*domain.ScheduleEntry
	nextID       int64
	availability []*domain.AvailabilityWindow
	requirements []*domain.CoverageRequirement
	staff        []*domain.StaffMember
	calls        []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:      make(map[int64]*domain.ScheduleEntry),
		nextID:       1,
		availability: make([]*domain.AvailabilityWindow, 0),
		requirements: make([]*domain.CoverageRequirement, 0),
		staff:        make([]*domain.StaffMember, 0),
		calls:        make([]string, 0),
	}
}

func (s *fakeStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeStore) addEntry(state domain.ScheduleEntryState) *domain.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &domain.ScheduleEntry{ID: s.nextID, ScheduleEntryState: state}
	s.entries[entry.ID] = entry
	s.nextID++
	return entry
}

func (s *fakeStore) CheckScheduleConflicts(staffID int64, date string, startTime string, endTime string, excludeEntryID int64) (*domain.ScheduleConflictCheck, error) {
	s.record("CheckScheduleConflicts")

	s.mu.Lock()
	defer s.mu.Unlock()

	check := &domain.ScheduleConflictCheck{ConflictingEntries: make([]*domain.ScheduleEntry, 0)}
	for _, entry := range s.entries {
		if entry.StaffID != staffID || entry.Date != date || entry.ID == excludeEntryID {
			continue
		}
		if utils.TimeWindowsOverlap(startTime, endTime, entry.StartTime, entry.EndTime) {
			check.ConflictExists = true
			check.ConflictingEntries = append(check.ConflictingEntries, entry)
		}
	}
	return check, nil
}

func (s *fakeStore) GetStaffAvailability(staffID int64, dateFrom string, dateTo string) ([]*domain.AvailabilityWindow, error) {
	s.record("GetStaffAvailability")

	s.mu.Lock()
	defer s.mu.Unlock()

	windows := make([]*domain.AvailabilityWindow, 0)
	for _, window := range s.availability {
		if window.StaffID == staffID && window.Date >= dateFrom && window.Date <= dateTo {
			windows = append(windows, window)
		}
	}
	return windows, nil
}

func (s *fakeStore) GetCoverageRequirements(locationID int64, date string) ([]*domain.CoverageRequirement, error) {
	s.record("GetCoverageRequirements")

	s.mu.Lock()
	defer s.mu.Unlock()

	requirements := make([]*domain.CoverageRequirement, 0)
	for _, requirement := range s.requirements {
		if requirement.LocationID == locationID && requirement.Date == date {
			requirements = append(requirements, requirement)
		}
	}
	return requirements, nil
}

func (s *fakeStore) GetActiveStaffMembers() ([]*domain.StaffMember, error) {
	s.record("GetActiveStaffMembers")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staff, nil
}

func (s *fakeStore) GetLocationEntries(locationID int64, date string) ([]*domain.ScheduleEntry, error) {
	s.record("GetLocationEntries")

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*domain.ScheduleEntry, 0)
	for _, entry := range s.entries {
		if entry.LocationID == locationID && entry.Date == date {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *fakeStore) GetScheduleEntry(id int64) (*domain.ScheduleEntry, error) {
	s.record("GetScheduleEntry")

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, errors.New("排班不存在")
	}
	return entry, nil
}

func (s *fakeStore) CreateScheduleEntry(state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error) {
	s.record("CreateScheduleEntry")

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &domain.ScheduleEntry{ID: s.nextID, ScheduleEntryState: *state}
	s.entries[entry.ID] = entry
	s.nextID++
	return entry, nil
}

func (s *fakeStore) UpdateScheduleEntry(entryID int64, state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error) {
	s.record("UpdateScheduleEntry")

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[entryID]
	if !exists {
		return nil, errors.New("排班不存在")
	}

	prior := *entry
	entry.ScheduleEntryState = *state
	return &prior, nil
}

func (s *fakeStore) DeleteScheduleEntry(entryID int64) (*domain.ScheduleEntry, error) {
	s.record("DeleteScheduleEntry")

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[entryID]
	if !exists {
		return nil, errors.New("排班不存在")
	}

	delete(s.entries, entryID)
	return entry, nil
}

// fakeChannel 收集发给会话的事件，failSend 为 true 时模拟发送失败
type fakeChannel struct {
	mu       sync.Mutex
	events   []*domain.Event
	failSend bool
	closed   bool
}

func (ch *fakeChannel) Send(event *domain.Event) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.failSend {
		return errors.New("发送失败")
	}
	ch.events = append(ch.events, event)
	return nil
}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

func (ch *fakeChannel) eventsOfType(eventType domain.EventType) []*domain.Event {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	events := make([]*domain.Event, 0)
	for _, event := range ch.events {
		if event.Type == eventType {
			events = append(events, event)
		}
	}
	return events
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Coordinator.HeartbeatInterval = 30
	cfg.Coordinator.SweepInterval = 60
	cfg.Coordinator.AutoResolveThreshold = 0.9
	cfg.Coordinator.SendBufferSize = 16
	cfg.Coordinator.EventQueueCap = 100
	return cfg
}

func newTestCoordinator(store *fakeStore) *Coordinator {
	return New(newTestConfig(), store)
}

func openTestSession(t *testing.T, c *Coordinator, editor domain.EditorInfo, locationIDs []int64, permissions []string) string {
	t.Helper()

	sessionID, err := c.OpenSession(editor, locationIDs, permissions)
	require.NoError(t, err)
	return sessionID
}

var testEditor = domain.EditorInfo{ID: 1, FullName: "张三", Email: "zhangsan@test.com", Role: domain.RoleScheduler}

/**********************************************
 * 会话管理
 **********************************************/

func TestOpenSessionDefaultPermissions(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	tests := []struct {
		role     domain.Role
		expected []string
	}{
		{domain.RoleScheduler, []string{domain.PermissionCreate, domain.PermissionUpdate}},
		{domain.RoleSupervisor, []string{domain.PermissionCreate, domain.PermissionUpdate, domain.PermissionDelete}},
		{domain.RoleAdmin, []string{domain.PermissionAdmin}},
	}

	for _, tt := range tests {
		editor := testEditor
		editor.Role = tt.role

		sessionID := openTestSession(t, c, editor, []int64{1}, nil)
		session, exists := c.GetSession(sessionID)
		require.True(t, exists)
		assert.Equal(t, tt.expected, session.Permissions)
	}
}

func TestOpenSessionRequiresEditor(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	_, err := c.OpenSession(domain.EditorInfo{}, []int64{1}, nil)
	assert.Error(t, err)
}

func TestOpenSessionRejectsPermissionsAboveRole(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
	})
	c := newTestCoordinator(store)

	// 排班员不能通过开会话给自己发 admin 或 delete 权限
	_, err := c.OpenSession(testEditor, []int64{1}, []string{domain.PermissionAdmin})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = c.OpenSession(testEditor, []int64{1}, []string{domain.PermissionCreate, domain.PermissionDelete})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// 会话开不出来，删除自然也到不了存储层
	assert.Len(t, store.entries, 1)
	assert.Contains(t, store.entries, entry.ID)
	assert.Empty(t, store.calls)

	// 角色默认权限以内的申请照常放行
	supervisor := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleSupervisor}
	_, err = c.OpenSession(supervisor, []int64{1}, []string{domain.PermissionDelete})
	require.NoError(t, err)

	// 管理员持有 schedule:admin，申请任何权限都允许
	admin := domain.EditorInfo{ID: 3, FullName: "王五", Email: "wangwu@test.com", Role: domain.RoleAdmin}
	_, err = c.OpenSession(admin, []int64{1}, []string{domain.PermissionDelete})
	require.NoError(t, err)
}

func TestCloseSessionIdempotent(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	observer := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleSupervisor}
	observerID := openTestSession(t, c, observer, []int64{1}, nil)
	observerCh := &fakeChannel{}
	require.NoError(t, c.AttachChannel(observerID, observerCh))

	closedCh := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, closedCh))

	c.CloseSession(sessionID)
	c.CloseSession(sessionID)
	c.CloseSession("session_不存在")

	_, exists := c.GetSession(sessionID)
	assert.False(t, exists)
	assert.True(t, closedCh.closed)

	// 重复关闭只广播一次
	disconnected := 0
	for _, event := range observerCh.eventsOfType(domain.EventScheduleChange) {
		data, ok := event.Data.(map[string]any)
		if ok && data["type"] == "user_disconnected" {
			disconnected++
		}
	}
	assert.Equal(t, 1, disconnected)
}

func TestAttachChannelInvalidSession(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	err := c.AttachChannel("session_不存在", &fakeChannel{})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestAttachChannelReplacesOldChannel(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	oldCh := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, oldCh))

	newCh := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, newCh))

	assert.True(t, oldCh.closed)
	// 新通道收到连接确认心跳
	assert.Len(t, newCh.eventsOfType(domain.EventHeartbeat), 1)
}

/**********************************************
 * 变更处理
 **********************************************/

func TestSubmitChangeAuthorizationBeforeStore(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, []string{domain.PermissionUpdate})

	req := &ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}

	// 权限不足
	_, err := c.SubmitChange(req, sessionID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// 地点越界
	req.LocationID = 99
	req.New.LocationID = 99
	_, err = c.SubmitChange(req, sessionID)
	assert.ErrorIs(t, err, ErrLocationOutOfScope)

	// 会话无效
	_, err = c.SubmitChange(req, "session_不存在")
	assert.ErrorIs(t, err, ErrInvalidSession)

	// 所有请求都在鉴权阶段被拒绝，不应有任何存储访问
	assert.Empty(t, store.calls)
}

func TestSubmitChangeAdminBlanketPermission(t *testing.T) {
	store := newFakeStore()
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	c := newTestCoordinator(store)

	admin := domain.EditorInfo{ID: 3, FullName: "王五", Email: "wangwu@test.com", Role: domain.RoleAdmin}
	sessionID := openTestSession(t, c, admin, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}, sessionID)
	require.NoError(t, err)
	assert.True(t, result.Applied)
}

func TestSubmitChangeCriticalConflictBlocksWrite(t *testing.T) {
	store := newFakeStore()
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "10:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "11:00:00", EndTime: "13:00:00",
		},
	}, sessionID)
	require.NoError(t, err)

	assert.False(t, result.Applied)
	assert.Empty(t, result.ChangeID)
	require.NotEmpty(t, result.Conflicts)
	assert.Equal(t, domain.ConflictOverlap, result.Conflicts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, result.Conflicts[0].Severity)

	// 写入被阻止，变更日志为空
	assert.NotContains(t, store.calls, "CreateScheduleEntry")
	assert.Empty(t, c.changeLog)
	assert.Len(t, store.entries, 1)
}

func TestSubmitChangeAdjacentWindowsDoNotOverlap(t *testing.T) {
	store := newFakeStore()
	store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "10:00:00", EndTime: "12:00:00",
	})
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	// 时间段是左闭右开的，首尾相接不算重叠
	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "12:00:00", EndTime: "14:00:00",
		},
	}, sessionID)
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.Empty(t, result.Conflicts)
}

func TestSubmitChangeWarningConflictStillApplies(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)
	ch := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, ch))

	// 该员工没有申报任何可用时间，应产生 high 级别的警告但不阻止写入
	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}, sessionID)
	require.NoError(t, err)

	assert.True(t, result.Applied)
	assert.NotEmpty(t, result.ChangeID)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, domain.ConflictAvailability, result.Conflicts[0].Kind)
	assert.Equal(t, domain.SeverityHigh, result.Conflicts[0].Severity)

	// 排班已写入，冲突进入活跃集合并广播
	assert.Len(t, store.entries, 1)
	assert.Len(t, c.ActiveConflicts(), 1)
	assert.Len(t, ch.eventsOfType(domain.EventConflictDetected), 1)
	assert.Len(t, ch.eventsOfType(domain.EventScheduleChange), 1)
}

func TestSubmitChangeSkillMismatchAutoResolvedBySweep(t *testing.T) {
	store := newFakeStore()
	store.requirements = append(store.requirements, &domain.CoverageRequirement{
		LocationID: 1, Date: "2026-09-01",
		StartTime: "09:00:00", EndTime: "12:00:00",
		RequiredNumber: 1, RequiredSkills: []string{"急救"},
	})
	store.staff = append(store.staff,
		&domain.StaffMember{ID: 1, FullName: "张三", Skills: []string{}, IsActive: true},
		&domain.StaffMember{ID: 2, FullName: "李四", Skills: []string{"急救"}, IsActive: true},
	)
	store.availability = append(store.availability,
		&domain.AvailabilityWindow{StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00"},
		&domain.AvailabilityWindow{StaffID: 2, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00"},
	)
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)
	ch := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, ch))

	// 把没有急救技能的张三排进要求急救技能的班次
	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}, sessionID)
	require.NoError(t, err)

	// 技能不匹配只是 medium 警告，变更照常应用并进入活跃冲突集合
	require.True(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, domain.ConflictSkillMismatch, result.Conflicts[0].Kind)
	assert.Equal(t, domain.SeverityMedium, result.Conflicts[0].Severity)
	assert.True(t, result.Conflicts[0].AutoResolvable)
	require.Len(t, c.ActiveConflicts(), 1)
	require.Len(t, store.entries, 1)

	// 巡检应用置信度最高的改派方案，班次被改派给具备技能的李四
	c.sweepConflicts()

	assert.Empty(t, c.ActiveConflicts())
	require.Len(t, store.entries, 1)
	for _, entry := range store.entries {
		assert.Equal(t, int64(2), entry.StaffID)
	}

	events := ch.eventsOfType(domain.EventConflictResolved)
	require.Len(t, events, 1)
	data := events[0].Data.(map[string]any)
	assert.Equal(t, domain.AutoResolverName, data["resolvedBy"])
}

func TestSubmitChangeInvalidPayload(t *testing.T) {
	store := newFakeStore()
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	_, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "12:00:00", EndTime: "12:00:00",
		},
	}, sessionID)
	assert.Error(t, err)
	assert.Empty(t, store.calls)
}

func TestSubmitChangeDeleteCoverageGap(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
	})
	store.requirements = append(store.requirements, &domain.CoverageRequirement{
		LocationID: 1, Date: "2026-09-01",
		StartTime: "09:00:00", EndTime: "12:00:00",
		RequiredNumber: 1, RequiredSkills: []string{},
	})
	c := newTestCoordinator(store)

	supervisor := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleSupervisor}
	sessionID := openTestSession(t, c, supervisor, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeDelete,
		EntryID:    entry.ID,
		LocationID: 1,
	}, sessionID)
	require.NoError(t, err)

	// 删除后无人在岗，属于 critical，删除被阻止
	assert.False(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, domain.ConflictCoverageGap, result.Conflicts[0].Kind)
	assert.Equal(t, domain.SeverityCritical, result.Conflicts[0].Severity)
	assert.Len(t, store.entries, 1)
}

/**********************************************
 * 回滚
 **********************************************/

func TestRollbackRestoresUpdate(t *testing.T) {
	store := newFakeStore()
	original := domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
	}
	entry := store.addEntry(original)
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	updated := original
	updated.StartTime = "13:00:00"
	updated.EndTime = "16:00:00"

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeUpdate,
		EntryID:    entry.ID,
		StaffID:    1,
		LocationID: 1,
		New:        &updated,
	}, sessionID)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Equal(t, updated, store.entries[entry.ID].ScheduleEntryState)

	operation, err := c.Rollback(result.ChangeID, "排错了", sessionID)
	require.NoError(t, err)

	// 回滚后恢复到变更前的快照
	assert.Equal(t, original, store.entries[entry.ID].ScheduleEntryState)
	require.Len(t, operation.Restores, 1)
	assert.Equal(t, entry.ID, operation.Restores[0].EntryID)

	// 变更日志不会因为回滚而被删除
	assert.Contains(t, c.changeLog, result.ChangeID)
}

func TestRollbackCreateDeletesEntry(t *testing.T) {
	store := newFakeStore()
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}, sessionID)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Len(t, store.entries, 1)

	_, err = c.Rollback(result.ChangeID, "不需要这个班次", sessionID)
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestRollbackDeleteRecreatesEntry(t *testing.T) {
	store := newFakeStore()
	original := domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00", Position: "前台",
	}
	entry := store.addEntry(original)
	c := newTestCoordinator(store)

	supervisor := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleSupervisor}
	sessionID := openTestSession(t, c, supervisor, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeDelete,
		EntryID:    entry.ID,
		LocationID: 1,
	}, sessionID)
	require.NoError(t, err)
	require.True(t, result.Applied)
	require.Empty(t, store.entries)

	_, err = c.Rollback(result.ChangeID, "误删", sessionID)
	require.NoError(t, err)

	// 重建出的排班换了新 ID，但内容必须与删除前一致
	require.Len(t, store.entries, 1)
	for _, recreated := range store.entries {
		assert.Equal(t, original, recreated.ScheduleEntryState)
	}
}

func TestRollbackRequiresSamePermission(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	supervisor := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleSupervisor}
	supervisorSession := openTestSession(t, c, supervisor, []int64{1}, nil)

	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeDelete,
		EntryID:    entry.ID,
		LocationID: 1,
	}, supervisorSession)
	require.NoError(t, err)
	require.True(t, result.Applied)

	// 普通排班员没有删除权限，也就不能回滚删除类变更
	schedulerSession := openTestSession(t, c, testEditor, []int64{1}, nil)
	_, err = c.Rollback(result.ChangeID, "试图回滚", schedulerSession)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRollbackUnknownChange(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	_, err := c.Rollback("change_不存在", "理由", sessionID)
	assert.ErrorIs(t, err, ErrChangeNotFound)
}

/**********************************************
 * 人工消解与广播
 **********************************************/

func TestResolveConflictManual(t *testing.T) {
	store := newFakeStore()
	entry := store.addEntry(domain.ScheduleEntryState{
		StaffID: 1, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	})
	c := newTestCoordinator(store)

	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)
	ch := &fakeChannel{}
	require.NoError(t, c.AttachChannel(sessionID, ch))

	newData := domain.ScheduleEntryState{
		StaffID: 2, LocationID: 1,
		Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
	}
	conflict := &domain.ScheduleConflict{
		ID:       "conflict_test",
		Kind:     domain.ConflictAvailability,
		Severity: domain.SeverityHigh,
		Details:  domain.ConflictDetails{LocationID: 1, Date: "2026-09-01"},
		Resolutions: []*domain.ConflictResolution{
			{
				ID:         "resolution_test",
				ConflictID: "conflict_test",
				Kind:       domain.ResolutionReassign,
				Steps: []domain.ResolutionStep{
					{Action: "改派班次", EntryID: entry.ID, NewData: &newData},
				},
				Confidence: 0.6,
			},
		},
	}
	c.mu.Lock()
	c.conflicts[conflict.ID] = conflict
	c.mu.Unlock()

	require.NoError(t, c.ResolveConflict("conflict_test", "resolution_test", sessionID))

	// 方案已应用，冲突从活跃集合移除
	assert.Equal(t, newData, store.entries[entry.ID].ScheduleEntryState)
	assert.Empty(t, c.ActiveConflicts())

	// 广播事件标明由谁消解
	events := ch.eventsOfType(domain.EventConflictResolved)
	require.Len(t, events, 1)
	data := events[0].Data.(map[string]any)
	assert.Equal(t, testEditor.FullName, data["resolvedBy"])
}

func TestResolveConflictUnknownResolution(t *testing.T) {
	c := newTestCoordinator(newFakeStore())
	sessionID := openTestSession(t, c, testEditor, []int64{1}, nil)

	c.mu.Lock()
	c.conflicts["conflict_test"] = &domain.ScheduleConflict{
		ID:      "conflict_test",
		Details: domain.ConflictDetails{LocationID: 1},
	}
	c.mu.Unlock()

	err := c.ResolveConflict("conflict_test", "resolution_不存在", sessionID)
	assert.ErrorIs(t, err, ErrResolutionNotFound)

	err = c.ResolveConflict("conflict_不存在", "resolution_test", sessionID)
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestBroadcastIsolatesFailingChannel(t *testing.T) {
	store := newFakeStore()
	store.availability = append(store.availability, &domain.AvailabilityWindow{
		StaffID: 1, Date: "2026-09-01", StartTime: "08:00:00", EndTime: "22:00:00",
	})
	c := newTestCoordinator(store)

	badEditor := domain.EditorInfo{ID: 2, FullName: "李四", Email: "lisi@test.com", Role: domain.RoleScheduler}
	badSession := openTestSession(t, c, badEditor, []int64{1}, nil)
	require.NoError(t, c.AttachChannel(badSession, &fakeChannel{failSend: true}))

	goodEditor := domain.EditorInfo{ID: 3, FullName: "王五", Email: "wangwu@test.com", Role: domain.RoleScheduler}
	goodSession := openTestSession(t, c, goodEditor, []int64{1}, nil)
	goodCh := &fakeChannel{}
	require.NoError(t, c.AttachChannel(goodSession, goodCh))

	submitSession := openTestSession(t, c, testEditor, []int64{1}, nil)
	result, err := c.SubmitChange(&ChangeRequest{
		Kind:       domain.ChangeCreate,
		StaffID:    1,
		LocationID: 1,
		New: &domain.ScheduleEntryState{
			StaffID: 1, LocationID: 1,
			Date: "2026-09-01", StartTime: "09:00:00", EndTime: "12:00:00",
		},
	}, submitSession)
	require.NoError(t, err)
	require.True(t, result.Applied)

	// 坏通道不影响变更成功，也不影响其他会话收到事件
	assert.NotEmpty(t, goodCh.eventsOfType(domain.EventScheduleChange))
}

func TestRecentEventsTrimmed(t *testing.T) {
	c := newTestCoordinator(newFakeStore())

	c.mu.Lock()
	for i := 0; i < c.cfg.Coordinator.EventQueueCap+1; i++ {
		c.broadcastEvent(&domain.Event{Type: domain.EventHeartbeat})
	}
	queueLen := len(c.eventQueue)
	c.mu.Unlock()

	// 超过上限后裁剪到一半
	assert.Equal(t, c.cfg.Coordinator.EventQueueCap/2, queueLen)

	events := c.RecentEvents(10)
	assert.Len(t, events, 10)
}
