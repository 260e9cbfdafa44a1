package health

import (
	"context"
	"sync"

	"github.com/SlpAus/mcbattle-ranking-backend/pkg/logger"
)

// State 定义了Redis缓存层的健康状态
type State int

const (
	StateHealthy State = iota
	// StateDegraded 表示Redis不可达，读路径直接访问数据库
	StateDegraded
	// StateRebuilding 表示Redis可达但缓存内容不可信，需要清空后才能重新启用
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Monitor 线程安全地维护Redis健康状态
type Monitor struct {
	mu             sync.RWMutex
	state          State
	lastKnownRunID string
	log            logger.Logger
}

// NewMonitor 创建一个处于健康状态的 Monitor
func NewMonitor(log logger.Logger) *Monitor {
	return &Monitor{state: StateHealthy, log: log}
}

// State 返回当前状态
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsRedisHealthy 只有在 StateHealthy 时才允许读写缓存
func (m *Monitor) IsRedisHealthy() bool {
	return m.State() == StateHealthy
}

// SetInitialRunID 在启动时记录Redis的 run_id
func (m *Monitor) SetInitialRunID(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastKnownRunID = runID
}

// Assess 根据一次探测结果推进状态机，返回是否需要清空缓存。
// 从降级状态恢复时同样需要清空：降级期间的写入没能使缓存失效。
func (m *Monitor) Assess(connected bool, runID string) (needsRebuild bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	switch m.state {
	case StateHealthy:
		if !connected {
			m.state = StateDegraded
			m.log.Warn(ctx, "健康检查: Redis连接丢失，状态 -> [降级]")
		} else if m.lastKnownRunID != "" && m.lastKnownRunID != runID {
			m.state = StateRebuilding
			needsRebuild = true
			m.log.Warn(ctx, "健康检查: 检测到Redis重启，状态 -> [重建中]",
				logger.String("old_run_id", m.lastKnownRunID), logger.String("new_run_id", runID))
		}
	case StateDegraded:
		if connected {
			m.state = StateRebuilding
			needsRebuild = true
			m.log.Info(ctx, "健康检查: Redis连接已恢复，状态 -> [重建中]")
		}
	case StateRebuilding:
		if !connected {
			m.state = StateDegraded
			m.log.Warn(ctx, "健康检查: 重建期间Redis连接再次丢失，状态 -> [降级]")
		} else {
			// 上一次重建失败，继续重试
			needsRebuild = true
		}
	}

	if connected {
		m.lastKnownRunID = runID
	}
	return needsRebuild
}

// MarkRebuildComplete 在一次重建尝试后调用。
// 若重建期间 run_id 又发生变化，则重建结果无效，保持 [重建中]。
func (m *Monitor) MarkRebuildComplete(success bool, runIDAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRebuilding {
		return
	}
	ctx := context.Background()
	if success && m.lastKnownRunID != runIDAfter {
		m.log.Warn(ctx, "健康检查: 重建期间Redis再次重启，重建无效",
			logger.String("old_run_id", m.lastKnownRunID), logger.String("new_run_id", runIDAfter))
		m.lastKnownRunID = runIDAfter
		return
	}
	if success {
		m.state = StateHealthy
		m.log.Info(ctx, "健康检查: 缓存重建成功，状态 -> [健康]")
		return
	}
	m.log.Warn(ctx, "健康检查: 缓存重建失败，保持 [重建中] 以待重试")
}
