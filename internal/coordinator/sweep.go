package coordinator

import (
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
)

// Start 启动两个后台循环：定期心跳和冲突自动消解巡检。
// 两个循环都通过 Stop 退出；巡检如果正在应用某个方案，会把这一个做完再停
func (c *Coordinator) Start() {
	c.doneWg.Add(2)

	go func() {
		defer c.doneWg.Done()

		ticker := time.NewTicker(time.Duration(c.cfg.Coordinator.HeartbeatInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.heartbeat()
			}
		}
	}()

	go func() {
		defer c.doneWg.Done()

		ticker := time.NewTicker(time.Duration(c.cfg.Coordinator.SweepInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweepConflicts()
			}
		}
	}()

	slog.Info("协同后台任务已启动",
		"heartbeatInterval", c.cfg.Coordinator.HeartbeatInterval,
		"sweepInterval", c.cfg.Coordinator.SweepInterval,
		"autoResolveThreshold", c.cfg.Coordinator.AutoResolveThreshold,
	)
}

func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.doneWg.Wait()
	slog.Info("协同后台任务已停止")
}

// heartbeat 广播一次活跃状态，心跳本身不会失败
func (c *Coordinator) heartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broadcastEvent(&domain.Event{
		Type: domain.EventHeartbeat,
		Data: map[string]any{
			"activeSessions":  len(c.sessions),
			"activeConflicts": len(c.conflicts),
		},
		Timestamp: time.Now(),
	})
}

// sweepConflicts 扫一遍活跃冲突，对预标记为可自动消解的冲突，
// 取置信度最高的候选方案，超过阈值就直接应用。
// 单个冲突消解失败只记日志，不会中断对其余冲突的巡检
func (c *Coordinator) sweepConflicts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for conflictID, conflict := range c.conflicts {
		if !conflict.AutoResolvable {
			continue
		}

		best := bestResolution(conflict)
		if best == nil || best.Confidence <= c.cfg.Coordinator.AutoResolveThreshold {
			continue
		}

		if err := c.applyResolutionSteps(best); err != nil {
			slog.Error("自动消解冲突失败", "conflictID", conflictID, "error", err)
			continue
		}

		delete(c.conflicts, conflictID)

		c.broadcastEvent(&domain.Event{
			Type: domain.EventConflictResolved,
			Data: map[string]any{
				"conflict":   conflict,
				"resolution": best,
				"resolvedAt": time.Now(),
				"resolvedBy": domain.AutoResolverName,
			},
			Timestamp: time.Now(),
		})

		slog.Info("冲突已自动消解", "conflictID", conflictID, "resolutionID", best.ID, "confidence", best.Confidence)
	}
}

func bestResolution(conflict *domain.ScheduleConflict) *domain.ConflictResolution {
	var best *domain.ConflictResolution
	for _, resolution := range conflict.Resolutions {
		if best == nil || resolution.Confidence > best.Confidence {
			best = resolution
		}
	}
	return best
}
