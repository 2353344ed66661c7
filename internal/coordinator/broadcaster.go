package coordinator

import (
	"log/slog"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

// broadcastEvent 把事件发给所有已绑定通道的活跃会话。
// 单个通道发送失败只记日志，绝不影响其他会话，也不影响触发广播的那次操作。
// 调用方必须持有 c.mu
func (c *Coordinator) broadcastEvent(event *domain.Event) {
	c.broadcastEventExcept("", event)
}

func (c *Coordinator) broadcastEventExcept(excludeSessionID string, event *domain.Event) {
	for sessionID, session := range c.sessions {
		if !session.IsActive || sessionID == excludeSessionID {
			continue
		}

		ch, ok := c.channels[sessionID]
		if !ok {
			continue
		}

		if err := ch.Send(event); err != nil {
			slog.Error("事件发送失败", "sessionID", sessionID, "type", event.Type, "error", err)
		}
	}

	// 留存最近的事件，供晚接入的会话查询
	c.eventQueue = append(c.eventQueue, event)
	if len(c.eventQueue) > c.cfg.Coordinator.EventQueueCap {
		c.eventQueue = c.eventQueue[len(c.eventQueue)-c.cfg.Coordinator.EventQueueCap/2:]
	}
}

// RecentEvents 返回最近的至多 limit 条事件，最新的在最后
func (c *Coordinator) RecentEvents(limit int) []*domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.eventQueue) {
		limit = len(c.eventQueue)
	}

	events := make([]*domain.Event, limit)
	copy(events, c.eventQueue[len(c.eventQueue)-limit:])
	return events
}
