// Package coordinator 实现实时排班协同的核心：会话管理、变更日志、
// 冲突检测与消解、事件广播以及后台巡检。
// 所有共享状态都由 Coordinator 独占持有，外部只能通过它的公开方法操作；
// 变更处理（检测冲突 + 落库 + 记日志）在一把互斥锁内完成，
// 避免两个并发变更基于同一份过期状态都通过冲突检测。
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/config"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
)

var (
	ErrInvalidSession     = errors.New("会话不存在或已失效")
	ErrLocationOutOfScope = errors.New("无权操作该地点的排班")
	ErrPermissionDenied   = errors.New("权限不足")
	ErrChangeNotFound     = errors.New("变更记录不存在")
	ErrConflictNotFound   = errors.New("冲突不存在")
	ErrResolutionNotFound = errors.New("消解方案不存在")
)

// ScheduleStore 是排班数据的权威存储边界，由 repository 实现。
// 核心自身不缓存排班数据，所有读取都实时穿透到存储层
type ScheduleStore interface {
	CheckScheduleConflicts(staffID int64, date string, startTime string, endTime string, excludeEntryID int64) (*domain.ScheduleConflictCheck, error)
	GetStaffAvailability(staffID int64, dateFrom string, dateTo string) ([]*domain.AvailabilityWindow, error)
	GetCoverageRequirements(locationID int64, date string) ([]*domain.CoverageRequirement, error)
	GetActiveStaffMembers() ([]*domain.StaffMember, error)
	GetLocationEntries(locationID int64, date string) ([]*domain.ScheduleEntry, error)
	GetScheduleEntry(id int64) (*domain.ScheduleEntry, error)
	CreateScheduleEntry(state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error)
	UpdateScheduleEntry(entryID int64, state *domain.ScheduleEntryState) (*domain.ScheduleEntry, error)
	DeleteScheduleEntry(entryID int64) (*domain.ScheduleEntry, error)
}

// Channel 是发往单个会话的双向通道抽象，Send 不允许长时间阻塞，
// 单个 Send 失败只影响这一个会话
type Channel interface {
	Send(event *domain.Event) error
	Close() error
}

type Coordinator struct {
	cfg      *config.Config
	store    ScheduleStore
	resolver *Resolver

	mu         sync.Mutex
	sessions   map[string]*domain.Session
	channels   map[string]Channel
	conflicts  map[string]*domain.ScheduleConflict
	changeLog  map[string]*domain.ScheduleChange
	eventQueue []*domain.Event

	stopCh chan struct{}
	doneWg sync.WaitGroup
}

func New(cfg *config.Config, store ScheduleStore) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		resolver:   NewResolver(store),
		sessions:   make(map[string]*domain.Session),
		channels:   make(map[string]Channel),
		conflicts:  make(map[string]*domain.ScheduleConflict),
		changeLog:  make(map[string]*domain.ScheduleChange),
		eventQueue: make([]*domain.Event, 0),
		stopCh:     make(chan struct{}),
	}
}

/**********************************************
 * 会话管理
 **********************************************/

func (c *Coordinator) OpenSession(editor domain.EditorInfo, locationIDs []int64, permissions []string) (string, error) {
	if editor.ID <= 0 {
		return "", errors.New("编辑者信息不完整")
	}

	// 会话权限只能在角色默认权限以内申请，不允许自行加码
	allowed := domain.DefaultPermissions(editor.Role)
	if len(permissions) == 0 {
		permissions = allowed
	} else if !slices.Contains(allowed, domain.PermissionAdmin) {
		for _, permission := range permissions {
			if !slices.Contains(allowed, permission) {
				return "", fmt.Errorf("%w：角色 %s 不能申请 %s", ErrPermissionDenied, editor.Role, permission)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := "session_" + uuid.NewString()
	now := time.Now()

	session := &domain.Session{
		ID:           sessionID,
		Editor:       editor,
		ConnectedAt:  now,
		LastActivity: now,
		LocationIDs:  locationIDs,
		Permissions:  permissions,
		IsActive:     true,
	}
	c.sessions[sessionID] = session

	// 通知其他会话有新编辑者接入
	c.broadcastEventExcept(sessionID, &domain.Event{
		Type: domain.EventScheduleChange,
		Data: map[string]any{
			"type":      "user_connected",
			"editor":    editor,
			"locations": locationIDs,
		},
		Timestamp: now,
		SessionID: sessionID,
		EditorID:  editor.ID,
	})

	slog.Info("会话已创建", "sessionID", sessionID, "editor", editor.FullName)
	return sessionID, nil
}

// CloseSession 是幂等的：关闭不存在或已关闭的会话不报错也不重复广播
func (c *Coordinator) CloseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, exists := c.sessions[sessionID]
	if !exists {
		return
	}

	session.IsActive = false
	delete(c.sessions, sessionID)

	if ch, ok := c.channels[sessionID]; ok {
		delete(c.channels, sessionID)
		if err := ch.Close(); err != nil {
			slog.Error("关闭会话通道失败", "sessionID", sessionID, "error", err)
		}
	}

	c.broadcastEvent(&domain.Event{
		Type: domain.EventScheduleChange,
		Data: map[string]any{
			"type":   "user_disconnected",
			"editor": session.Editor,
		},
		Timestamp: time.Now(),
		SessionID: sessionID,
		EditorID:  session.Editor.ID,
	})

	slog.Info("会话已关闭", "sessionID", sessionID, "editor", session.Editor.FullName)
}

// AttachChannel 把一条传输通道绑定到会话上，重复绑定会替换并关闭旧通道
func (c *Coordinator) AttachChannel(sessionID string, ch Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, exists := c.sessions[sessionID]
	if !exists || !session.IsActive {
		return ErrInvalidSession
	}

	if old, ok := c.channels[sessionID]; ok {
		_ = old.Close()
	}
	c.channels[sessionID] = ch

	// 连接确认，附带当前协同状态
	if err := ch.Send(&domain.Event{
		Type: domain.EventHeartbeat,
		Data: map[string]any{
			"status":          "connected",
			"activeSessions":  len(c.sessions),
			"activeConflicts": len(c.conflicts),
		},
		Timestamp: time.Now(),
		SessionID: sessionID,
	}); err != nil {
		slog.Error("发送连接确认失败", "sessionID", sessionID, "error", err)
	}

	return nil
}

func (c *Coordinator) GetSession(sessionID string) (*domain.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, exists := c.sessions[sessionID]
	return session, exists
}

func (c *Coordinator) ActiveSessions() []*domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]*domain.Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// authorize 校验会话、地点范围和变更类型所需的权限，
// 校验通过会顺带刷新会话的活跃时间。调用方必须持有 c.mu
func (c *Coordinator) authorize(sessionID string, kind domain.ChangeKind, locationID int64) (*domain.Session, error) {
	session, exists := c.sessions[sessionID]
	if !exists || !session.IsActive {
		return nil, ErrInvalidSession
	}

	if !slices.Contains(session.LocationIDs, locationID) {
		return nil, ErrLocationOutOfScope
	}

	required := kind.RequiredPermission()
	if required == "" {
		return nil, fmt.Errorf("不支持的变更类型 %s", kind)
	}
	if !slices.Contains(session.Permissions, required) && !slices.Contains(session.Permissions, domain.PermissionAdmin) {
		return nil, fmt.Errorf("%w：需要 %s", ErrPermissionDenied, required)
	}

	session.LastActivity = time.Now()
	return session, nil
}

/**********************************************
 * 变更处理
 **********************************************/

type ChangeRequest struct {
	Kind       domain.ChangeKind
	EntryID    int64
	StaffID    int64
	LocationID int64
	New        *domain.ScheduleEntryState
	Reason     string
}

type SubmitResult struct {
	Applied   bool                       `json:"applied"`
	ChangeID  string                     `json:"changeID,omitempty"`
	Conflicts []*domain.ScheduleConflict `json:"conflicts,omitempty"`
}

// SubmitChange 走完整的变更状态机：鉴权 → 冲突检测 → 落库 → 记日志 → 广播。
// critical 冲突会阻止写入并原样返回冲突列表；低级别冲突写入成功后作为警告附带返回。
// 存储层失败视为本次操作失败，不重试、不记日志、不广播
func (c *Coordinator) SubmitChange(req *ChangeRequest, sessionID string) (*SubmitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.authorize(sessionID, req.Kind, req.LocationID)
	if err != nil {
		return nil, err
	}

	change := &domain.ScheduleChange{
		ID:         "change_" + uuid.NewString(),
		Kind:       req.Kind,
		EntryID:    req.EntryID,
		StaffID:    req.StaffID,
		LocationID: req.LocationID,
		New:        req.New,
		Timestamp:  time.Now(),
		EditorID:   session.Editor.ID,
		Reason:     req.Reason,
	}

	if err := utils.ValidateChange(change); err != nil {
		return nil, err
	}

	// 删除排班时先把当前状态取出来，覆盖检查和回滚都要用
	if change.Kind == domain.ChangeDelete {
		entry, err := c.store.GetScheduleEntry(change.EntryID)
		if err != nil {
			return nil, fmt.Errorf("读取待删除排班失败: %w", err)
		}
		// 排班实际所在的地点必须也在会话范围内，请求里报的地点不作数
		if !slices.Contains(session.LocationIDs, entry.LocationID) {
			return nil, ErrLocationOutOfScope
		}
		change.StaffID = entry.StaffID
		change.LocationID = entry.LocationID
		change.Previous = &entry.ScheduleEntryState
	}

	conflicts, err := c.detectConflicts(change)
	if err != nil {
		return nil, fmt.Errorf("冲突检测失败: %w", err)
	}

	for _, conflict := range conflicts {
		if conflict.Severity == domain.SeverityCritical {
			// critical 冲突必须先消解才能写入
			return &SubmitResult{Applied: false, Conflicts: conflicts}, nil
		}
	}

	if err := c.applyChange(change); err != nil {
		return nil, fmt.Errorf("应用排班变更失败: %w", err)
	}

	c.changeLog[change.ID] = change

	for _, conflict := range conflicts {
		// 新建排班的冲突是在拿到排班 ID 之前检出的，方案里的 ID 要补上，
		// 否则消解时改派会被当成新建
		if change.Kind == domain.ChangeCreate {
			for _, resolution := range conflict.Resolutions {
				for i := range resolution.Steps {
					if resolution.Steps[i].NewData != nil && resolution.Steps[i].EntryID == 0 && resolution.Kind != domain.ResolutionAddCoverage {
						resolution.Steps[i].EntryID = change.EntryID
					}
				}
			}
		}
		c.conflicts[conflict.ID] = conflict
		c.broadcastEvent(&domain.Event{
			Type:      domain.EventConflictDetected,
			Data:      conflict,
			Timestamp: time.Now(),
		})
	}

	c.broadcastEvent(&domain.Event{
		Type:      domain.EventScheduleChange,
		Data:      change,
		Timestamp: time.Now(),
		SessionID: sessionID,
		EditorID:  change.EditorID,
	})

	slog.Info("排班变更已应用", "changeID", change.ID, "kind", change.Kind, "entryID", change.EntryID)
	return &SubmitResult{Applied: true, ChangeID: change.ID, Conflicts: conflicts}, nil
}

// applyChange 把变更写入存储层，并补全回滚所需的变更前快照。
// 调用方必须持有 c.mu
func (c *Coordinator) applyChange(change *domain.ScheduleChange) error {
	switch change.Kind {
	case domain.ChangeCreate:
		entry, err := c.store.CreateScheduleEntry(change.New)
		if err != nil {
			return err
		}
		change.EntryID = entry.ID
	case domain.ChangeUpdate, domain.ChangeReschedule:
		prior, err := c.store.UpdateScheduleEntry(change.EntryID, change.New)
		if err != nil {
			return err
		}
		change.Previous = &prior.ScheduleEntryState
	case domain.ChangeDelete:
		prior, err := c.store.DeleteScheduleEntry(change.EntryID)
		if err != nil {
			return err
		}
		change.Previous = &prior.ScheduleEntryState
	}

	return nil
}

/**********************************************
 * 回滚
 **********************************************/

// Rollback 把一条已应用的变更还原到它的变更前快照。
// 回滚需要和原变更同样的权限；变更日志本身不会被删除，回滚是追加的一次动作
func (c *Coordinator) Rollback(changeID string, reason string, sessionID string) (*domain.RollbackOperation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	change, exists := c.changeLog[changeID]
	if !exists {
		return nil, ErrChangeNotFound
	}

	if _, err := c.authorize(sessionID, change.Kind, change.LocationID); err != nil {
		return nil, err
	}

	switch change.Kind {
	case domain.ChangeCreate:
		// 新建的排班通过删除来回滚
		if _, err := c.store.DeleteScheduleEntry(change.EntryID); err != nil {
			return nil, fmt.Errorf("回滚失败: %w", err)
		}
	case domain.ChangeUpdate, domain.ChangeReschedule:
		if _, err := c.store.UpdateScheduleEntry(change.EntryID, change.Previous); err != nil {
			return nil, fmt.Errorf("回滚失败: %w", err)
		}
	case domain.ChangeDelete:
		// 被删除的排班只能重建，新纪录会拿到新的 ID
		if _, err := c.store.CreateScheduleEntry(change.Previous); err != nil {
			return nil, fmt.Errorf("回滚失败: %w", err)
		}
	}

	operation := &domain.RollbackOperation{
		ID:        "op_" + uuid.NewString(),
		ChangeIDs: []string{changeID},
		Restores: []domain.RollbackItem{
			{EntryID: change.EntryID, Previous: change.Previous},
		},
		Timestamp: time.Now(),
		Reason:    reason,
	}

	c.broadcastEvent(&domain.Event{
		Type: domain.EventScheduleChange,
		Data: map[string]any{
			"type":           "rollback",
			"operation":      operation,
			"originalChange": change,
		},
		Timestamp: time.Now(),
		SessionID: sessionID,
	})

	slog.Info("变更已回滚", "changeID", changeID, "reason", reason)
	return operation, nil
}

/**********************************************
 * 冲突查询与人工消解
 **********************************************/

func (c *Coordinator) ActiveConflicts() []*domain.ScheduleConflict {
	c.mu.Lock()
	defer c.mu.Unlock()

	conflicts := make([]*domain.ScheduleConflict, 0, len(c.conflicts))
	for _, conflict := range c.conflicts {
		conflicts = append(conflicts, conflict)
	}
	return conflicts
}

// ResolveConflict 由编辑者人工选择某个候选方案并应用，
// 广播出去的事件会标明是谁消解的，和后台自动消解区分开
func (c *Coordinator) ResolveConflict(conflictID string, resolutionID string, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conflict, exists := c.conflicts[conflictID]
	if !exists {
		return ErrConflictNotFound
	}

	session, err := c.authorize(sessionID, domain.ChangeUpdate, conflict.Details.LocationID)
	if err != nil {
		return err
	}

	var resolution *domain.ConflictResolution
	for _, candidate := range conflict.Resolutions {
		if candidate.ID == resolutionID {
			resolution = candidate
			break
		}
	}
	if resolution == nil {
		return ErrResolutionNotFound
	}

	if err := c.applyResolutionSteps(resolution); err != nil {
		return fmt.Errorf("应用消解方案失败: %w", err)
	}

	delete(c.conflicts, conflictID)

	c.broadcastEvent(&domain.Event{
		Type: domain.EventConflictResolved,
		Data: map[string]any{
			"conflict":   conflict,
			"resolution": resolution,
			"resolvedAt": time.Now(),
			"resolvedBy": session.Editor.FullName,
		},
		Timestamp: time.Now(),
		SessionID: sessionID,
		EditorID:  session.Editor.ID,
	})

	slog.Info("冲突已人工消解", "conflictID", conflictID, "resolutionID", resolutionID, "editor", session.Editor.FullName)
	return nil
}

// applyResolutionSteps 依次执行方案中的具体步骤，只有携带 NewData 的步骤才会落库。
// 调用方必须持有 c.mu
func (c *Coordinator) applyResolutionSteps(resolution *domain.ConflictResolution) error {
	for _, step := range resolution.Steps {
		if step.NewData == nil {
			continue
		}

		switch {
		case step.EntryID == 0:
			if _, err := c.store.CreateScheduleEntry(step.NewData); err != nil {
				return err
			}
		case resolution.Kind == domain.ResolutionCancel:
			if _, err := c.store.DeleteScheduleEntry(step.EntryID); err != nil {
				return err
			}
		default:
			if _, err := c.store.UpdateScheduleEntry(step.EntryID, step.NewData); err != nil {
				return err
			}
		}
	}

	return nil
}
