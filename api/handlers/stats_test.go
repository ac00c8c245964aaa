package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/webstarter/internal/database"
	"github.com/BaSui01/webstarter/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsHandler_HandleStats(t *testing.T) {
	handler := NewStatsHandler(
		func() database.PoolStats {
			return database.PoolStats{Total: 8, Idle: 5, InUse: 3, MaxSize: 32}
		},
		func() pool.WorkerPoolStats {
			return pool.WorkerPoolStats{Active: 64, Queued: 2, Completed: 100}
		},
		func() string { return "running" },
	)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)

	handler.HandleStats(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool          `json:"success"`
		Data    StatsSnapshot `json:"data"`
	}
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "running", resp.Data.State)
	assert.Equal(t, 8, resp.Data.Pool.Total)
	assert.Equal(t, 3, resp.Data.Pool.InUse)
	assert.Equal(t, 64, resp.Data.Worker.Active)
	assert.False(t, resp.Data.Timestamp.IsZero())
}
