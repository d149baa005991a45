package protection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khongirad/INOMAD-sub003/internal/alerts"
	"github.com/Khongirad/INOMAD-sub003/internal/guard"
	"github.com/Khongirad/INOMAD-sub003/internal/indexer"
)

func newTestRouter(g guard.Contract) (*gin.Engine, *Orchestrator, *alerts.Dispatcher) {
	gin.SetMode(gin.TestMode)
	o, dispatcher := newTestOrchestrator(g)
	r := gin.New()
	NewHandler(o, dispatcher).RegisterRoutes(r.Group("/v1"))
	return r, o, dispatcher
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestReportEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(&stubGuard{})

	w, out := doJSON(t, r, http.MethodPost, "/v1/protection/report", gin.H{
		"wallet":   "0xWallet",
		"patterns": []string{"draining detected"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])

	data := out["data"].(map[string]any)
	assert.Equal(t, float64(30), data["score"])
	assert.Equal(t, "monitored", data["action"])
}

func TestReportEndpointValidation(t *testing.T) {
	r, _, _ := newTestRouter(&stubGuard{})

	w, out := doJSON(t, r, http.MethodPost, "/v1/protection/report", gin.H{"wallet": "0xWallet"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, out["success"])
}

func TestStatusEndpoint(t *testing.T) {
	r, o, _ := newTestRouter(&stubGuard{lockStatus: &guard.LockStatus{Locked: false}})
	o.Scorer().AddToWhitelist("0xClean")

	w, out := doJSON(t, r, http.MethodGet, "/v1/protection/status/0xClean", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "0xclean", data["wallet"])
	assert.Equal(t, true, data["whitelisted"])
}

func TestLockEndpointFailure(t *testing.T) {
	r, _, _ := newTestRouter(&stubGuard{lockErr: errors.New("rpc down")})

	w, out := doJSON(t, r, http.MethodPost, "/v1/protection/lock", gin.H{
		"wallet":   "0xTarget",
		"reason":   "compromised",
		"lockedBy": "ops",
	})

	// Enforcement failures are reported, not raised.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Failed to lock wallet", out["message"])
}

func TestLockEndpointSuccess(t *testing.T) {
	r, _, dispatcher := newTestRouter(&stubGuard{})

	_, out := doJSON(t, r, http.MethodPost, "/v1/protection/lock", gin.H{
		"wallet":   "0xTarget",
		"reason":   "compromised",
		"lockedBy": "ops",
	})

	assert.Equal(t, true, out["success"])
	assert.Len(t, dispatcher.Query(alerts.Filter{Type: alerts.TypeManualLock}), 1)
}

func TestFreezeEndpoint(t *testing.T) {
	r, _, dispatcher := newTestRouter(&stubGuard{})

	_, out := doJSON(t, r, http.MethodPost, "/v1/protection/freeze", gin.H{
		"wallet":      "0xFrozen",
		"caseHash":    "0xcase",
		"requestedBy": "court",
	})

	assert.Equal(t, true, out["success"])
	data := out["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.Len(t, dispatcher.Query(alerts.Filter{Level: alerts.LevelCritical}), 1)
}

func TestResetEndpoint(t *testing.T) {
	r, o, _ := newTestRouter(&stubGuard{})
	o.ProcessSuspiciousActivity(context.Background(), "0xDirty", []string{"draining detected"}, indexer.TxMeta{})

	_, out := doJSON(t, r, http.MethodPost, "/v1/protection/reset/0xDirty", nil)

	assert.Equal(t, true, out["success"])
	prof, ok := o.Scorer().Profile("0xDirty")
	require.True(t, ok)
	assert.Equal(t, 0, prof.CurrentScore)
	assert.Equal(t, 30, prof.HighestScore)
}

func TestHighRiskEndpoint(t *testing.T) {
	r, o, _ := newTestRouter(&stubGuard{})
	o.ProcessSuspiciousActivity(context.Background(), "0xHot", []string{"draining detected", "blacklist interaction", "unlimited approval"}, indexer.TxMeta{})

	_, out := doJSON(t, r, http.MethodGet, "/v1/protection/high-risk", nil)

	data := out["data"].([]any)
	require.Len(t, data, 1)

	_, out = doJSON(t, r, http.MethodGet, "/v1/protection/high-risk?threshold=abc", nil)
	assert.Equal(t, false, out["success"])
}

func TestBlacklistEndpoint(t *testing.T) {
	r, o, dispatcher := newTestRouter(&stubGuard{})

	_, out := doJSON(t, r, http.MethodPost, "/v1/protection/blacklist", gin.H{"wallet": "0xBad"})

	assert.Equal(t, true, out["success"])
	assert.True(t, o.Scorer().IsBlacklisted("0xBAD"))
	assert.Len(t, dispatcher.Query(alerts.Filter{Type: alerts.TypeSystem}), 1)
}

func TestHistoryEndpointInvalidLimit(t *testing.T) {
	r, _, _ := newTestRouter(&stubGuard{})

	w, out := doJSON(t, r, http.MethodGet, "/v1/protection/history/0xWallet?limit=-1", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, out["success"])
}

func TestStatsEndpoint(t *testing.T) {
	r, o, _ := newTestRouter(&stubGuard{})
	o.ProcessSuspiciousActivity(context.Background(), "0xOne", []string{"draining detected"}, indexer.TxMeta{})

	_, out := doJSON(t, r, http.MethodGet, "/v1/protection/stats", nil)

	data := out["data"].(map[string]any)
	assert.Equal(t, float64(1), data["trackedWallets"])
}
