package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/config"
	"github.com/albireox/lvm-spec-pressure/internal/model"
)

type fakeBridges struct {
	statuses []model.BridgeStatus
}

func (f *fakeBridges) Spec() string { return "sp1" }

func (f *fakeBridges) Status() []model.BridgeStatus { return f.statuses }

func newTestRouter(bridges BridgeLister) *gin.Engine {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{App: config.AppConfig{Name: "lvm-spec-pressure", Version: "0.1.0"}}
	h := NewHealthHandler(bridges, cfg, zap.NewNop())

	router := gin.New()
	h.RegisterRoutes(router.Group(""))
	h.RegisterBridgeRoutes(router.Group("/api/v1"))
	return router
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func listening(camera string) model.BridgeStatus {
	return model.BridgeStatus{
		Camera:        camera,
		Address:       "127.0.0.1:8101",
		Port:          8101,
		State:         model.BridgeStateListening,
		ActiveClients: []model.ClientInfo{},
		Link:          &model.LinkStats{Transactions: 3, TimeoutCount: 1},
	}
}

func TestHealthCheck(t *testing.T) {
	require := require.New(t)

	bridges := &fakeBridges{statuses: []model.BridgeStatus{listening("b1"), listening("r1")}}
	router := newTestRouter(bridges)

	recorder := get(router, "/health")
	require.Equal(http.StatusOK, recorder.Code)

	var health HealthResponse
	require.NoError(json.Unmarshal(recorder.Body.Bytes(), &health))
	require.Equal("healthy", health.Status)
	require.Equal("sp1", health.Spec)
	require.Equal("0.1.0", health.Version)
	require.Len(health.Checks, 2)
	require.EqualValues(3, health.Checks["b1"].Data["transactions"])

	bridges.statuses[1].State = model.BridgeStateStopped
	recorder = get(router, "/health")
	require.Equal(http.StatusServiceUnavailable, recorder.Code)

	require.NoError(json.Unmarshal(recorder.Body.Bytes(), &health))
	require.Equal("unhealthy", health.Status)
	require.Equal("unhealthy", health.Checks["r1"].Status)
	require.Equal("healthy", health.Checks["b1"].Status)
}

func TestLivenessCheck(t *testing.T) {
	recorder := get(newTestRouter(&fakeBridges{}), "/live")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"alive"`)
}

func TestListBridges(t *testing.T) {
	require := require.New(t)

	router := newTestRouter(&fakeBridges{statuses: []model.BridgeStatus{listening("b1"), listening("r1")}})
	recorder := get(router, "/api/v1/bridges")
	require.Equal(http.StatusOK, recorder.Code)

	var response struct {
		Success bool                 `json:"success"`
		Data    []model.BridgeStatus `json:"data"`
	}
	require.NoError(json.Unmarshal(recorder.Body.Bytes(), &response))
	require.True(response.Success)
	require.Len(response.Data, 2)
	require.Equal("b1", response.Data[0].Camera)
	require.Equal(model.BridgeStateListening, response.Data[0].State)
}

func TestGetBridge(t *testing.T) {
	require := require.New(t)

	router := newTestRouter(&fakeBridges{statuses: []model.BridgeStatus{listening("b1")}})

	recorder := get(router, "/api/v1/bridges/B1")
	require.Equal(http.StatusOK, recorder.Code)

	var found struct {
		Data model.BridgeStatus `json:"data"`
	}
	require.NoError(json.Unmarshal(recorder.Body.Bytes(), &found))
	require.Equal("b1", found.Data.Camera)
	require.EqualValues(8101, found.Data.Port)

	recorder = get(router, "/api/v1/bridges/z9")
	require.Equal(http.StatusNotFound, recorder.Code)

	var missing struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Details string `json:"details"`
		} `json:"error"`
	}
	require.NoError(json.Unmarshal(recorder.Body.Bytes(), &missing))
	require.False(missing.Success)
	require.Equal("NOT_FOUND", missing.Error.Code)
	require.Contains(missing.Error.Details, "z9")
}
