package handlers

import (
	"net/http"
	"time"

	"github.com/BaSui01/webstarter/internal/database"
	"github.com/BaSui01/webstarter/internal/pool"
)

// =============================================================================
// 📈 运行状态 Handler
// =============================================================================

// StatsSnapshot 运行状态快照
type StatsSnapshot struct {
	State     string               `json:"state"`
	Uptime    string               `json:"uptime"`
	Pool      database.PoolStats   `json:"pool"`
	Worker    pool.WorkerPoolStats `json:"worker"`
	Timestamp time.Time            `json:"timestamp"`
}

// StatsHandler 汇总连接池、工作池与服务器状态
type StatsHandler struct {
	startedAt   time.Time
	poolStats   func() database.PoolStats
	workerStats func() pool.WorkerPoolStats
	serverState func() string
}

// NewStatsHandler 创建运行状态处理器
func NewStatsHandler(
	poolStats func() database.PoolStats,
	workerStats func() pool.WorkerPoolStats,
	serverState func() string,
) *StatsHandler {
	return &StatsHandler{
		startedAt:   time.Now(),
		poolStats:   poolStats,
		workerStats: workerStats,
		serverState: serverState,
	}
}

// HandleStats 处理 /api/v1/stats 请求
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, StatsSnapshot{
		State:     h.serverState(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Pool:      h.poolStats(),
		Worker:    h.workerStats(),
		Timestamp: time.Now(),
	})
}
