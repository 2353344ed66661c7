package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/utils"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 鉴权已经由 cookie 完成，跨域策略交给部署层
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)

	var req struct {
		LocationIDs []int64  `json:"locationIDs" validate:"required,min=1"`
		Permissions []string `json:"permissions" validate:"omitempty,dive,oneof=schedule:create schedule:update schedule:delete schedule:admin"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	editor := domain.EditorInfo{
		ID:       myInfo.ID,
		FullName: myInfo.FullName,
		Email:    myInfo.Email,
		Role:     myInfo.Role,
	}

	sessionID, err := h.coordinator.OpenSession(editor, req.LocationIDs, req.Permissions)
	if err != nil {
		h.errorResponse(w, r, err.Error())
		return
	}

	h.successResponse(w, r, "会话创建成功", map[string]string{"sessionID": sessionID})
}

func (h *Handler) GetActiveSessions(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "获取会话列表成功", h.coordinator.ActiveSessions())
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)
	sessionID := chi.URLParam(r, "sessionID")

	// 只有会话的主人或管理角色才能关闭会话，关闭不存在的会话视为成功
	session, exists := h.coordinator.GetSession(sessionID)
	if exists && session.Editor.ID != myInfo.ID && myInfo.Role == domain.RoleScheduler {
		h.errorResponse(w, r, "只能关闭自己的会话")
		return
	}

	h.coordinator.CloseSession(sessionID)
	h.successResponse(w, r, "会话已关闭", nil)
}

func (h *Handler) AttachSessionChannel(w http.ResponseWriter, r *http.Request) {
	myInfo := r.Context().Value(MyInfoCtx).(*domain.User)
	sessionID := chi.URLParam(r, "sessionID")

	session, exists := h.coordinator.GetSession(sessionID)
	if !exists {
		h.errorResponse(w, r, "会话不存在或已失效")
		return
	}
	if session.Editor.ID != myInfo.ID {
		h.errorResponse(w, r, "只能连接自己的会话")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时它已经向客户端写了错误响应
		h.logInternalServerError(r, err)
		return
	}

	channel := ws.NewChannel(sessionID, conn, h.config.Coordinator.SendBufferSize, func() {
		h.coordinator.CloseSession(sessionID)
	})

	if err := h.coordinator.AttachChannel(sessionID, channel); err != nil {
		_ = channel.Close()
		return
	}
}

func (h *Handler) SubmitChange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string                     `json:"sessionID" validate:"required"`
		Kind       string                     `json:"kind" validate:"required,oneof=create update delete reschedule"`
		EntryID    int64                      `json:"entryID"`
		LocationID int64                      `json:"locationID"` // delete 没有 new，地点范围校验依赖这个字段
		New        *domain.ScheduleEntryState `json:"new"`
		Reason     string                     `json:"reason"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	kind := domain.ChangeKind(req.Kind)
	if kind == domain.ChangeDelete {
		if req.LocationID <= 0 {
			h.errorResponse(w, r, "缺少地点信息")
			return
		}
	} else {
		if req.New == nil {
			h.errorResponse(w, r, "缺少排班数据")
			return
		}
		if err := utils.ValidateEntryState(req.New); err != nil {
			h.errorResponse(w, r, err.Error())
			return
		}
	}

	changeReq := &coordinator.ChangeRequest{
		Kind:       kind,
		EntryID:    req.EntryID,
		LocationID: req.LocationID,
		Reason:     req.Reason,
	}
	if req.New != nil {
		changeReq.StaffID = req.New.StaffID
		changeReq.LocationID = req.New.LocationID
		changeReq.New = req.New
	}

	result, err := h.coordinator.SubmitChange(changeReq, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrInvalidSession),
			errors.Is(err, coordinator.ErrLocationOutOfScope),
			errors.Is(err, coordinator.ErrPermissionDenied):
			h.errorResponse(w, r, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	if !result.Applied {
		// 变更被 critical 冲突拦下，通知编辑者之余再发一封告警邮件
		h.publishConflictAlert(r, req.SessionID, result.Conflicts)
		h.writeJSON(w, r, http.StatusOK, Response{
			Success: false,
			Message: "存在严重冲突，变更未应用",
			Data:    result,
		})
		return
	}

	h.successResponse(w, r, "变更已应用", result)
}

// publishConflictAlert 把 critical 冲突的告警邮件投到消息队列，
// 投递失败只记日志，不影响本次请求的响应
func (h *Handler) publishConflictAlert(r *http.Request, sessionID string, conflicts []*domain.ScheduleConflict) {
	session, exists := h.coordinator.GetSession(sessionID)
	if !exists {
		return
	}

	for _, conflict := range conflicts {
		if conflict.Severity != domain.SeverityCritical {
			continue
		}

		mailMessage := domain.MailMessage{
			Type: "conflict_alert",
			To:   session.Editor.Email,
			Data: domain.ConflictAlertMailData{
				EditorName:  session.Editor.FullName,
				Kind:        string(conflict.Kind),
				Description: conflict.Details.Description,
				Date:        conflict.Details.Date,
				StartTime:   conflict.Details.StartTime,
				EndTime:     conflict.Details.EndTime,
				LocationID:  conflict.Details.LocationID,
			},
		}

		mailData, err := json.Marshal(mailMessage)
		if err != nil {
			h.logInternalServerError(r, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.config.RabbitMQ.PublishTimeout)*time.Second)
		if err := h.mailChannel.PublishWithContext(
			ctx,
			"",
			"email_queue",
			true,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        mailData,
			},
		); err != nil {
			h.logInternalServerError(r, err)
		}
		cancel()
	}
}

func (h *Handler) RollbackChange(w http.ResponseWriter, r *http.Request) {
	changeID := chi.URLParam(r, "changeID")

	var req struct {
		SessionID string `json:"sessionID" validate:"required"`
		Reason    string `json:"reason" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	operation, err := h.coordinator.Rollback(changeID, req.Reason, req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrChangeNotFound),
			errors.Is(err, coordinator.ErrInvalidSession),
			errors.Is(err, coordinator.ErrLocationOutOfScope),
			errors.Is(err, coordinator.ErrPermissionDenied):
			h.errorResponse(w, r, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "变更已回滚", operation)
}

func (h *Handler) GetActiveConflicts(w http.ResponseWriter, r *http.Request) {
	h.successResponse(w, r, "获取冲突列表成功", h.coordinator.ActiveConflicts())
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "conflictID")

	var req struct {
		SessionID    string `json:"sessionID" validate:"required"`
		ResolutionID string `json:"resolutionID" validate:"required"`
	}

	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.coordinator.ResolveConflict(conflictID, req.ResolutionID, req.SessionID); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrConflictNotFound),
			errors.Is(err, coordinator.ErrResolutionNotFound),
			errors.Is(err, coordinator.ErrInvalidSession),
			errors.Is(err, coordinator.ErrLocationOutOfScope),
			errors.Is(err, coordinator.ErrPermissionDenied):
			h.errorResponse(w, r, err.Error())
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "冲突已消解", nil)
}

func (h *Handler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			h.errorResponse(w, r, "limit 参数无效")
			return
		}
		limit = parsed
	}

	h.successResponse(w, r, "获取事件列表成功", h.coordinator.RecentEvents(limit))
}
