package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Khongirad/INOMAD-sub003/internal/config"
	"github.com/Khongirad/INOMAD-sub003/internal/guard"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockGuard implements guard.Contract for testing
type mockGuard struct {
	locked map[string]bool
}

func (m *mockGuard) LockWallet(_ context.Context, wallet, _ string) (string, error) {
	if m.locked == nil {
		m.locked = make(map[string]bool)
	}
	m.locked[wallet] = true
	return "0xmocklock", nil
}

func (m *mockGuard) UpdateRiskScore(context.Context, string, uint8) (string, error) {
	return "0xmockscore", nil
}

func (m *mockGuard) GetLockStatus(_ context.Context, wallet string) (*guard.LockStatus, error) {
	return &guard.LockStatus{Locked: m.locked[wallet], LockedAt: time.Now()}, nil
}

// testConfig returns a minimal offline config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		LogFormat:    "text",
		ChainID:      84532,
		PollInterval: time.Second,
	}
}

// newTestServer creates an offline server with a mock enforcement contract
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithGuard(&mockGuard{}))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws/alerts",
		"GET:/v1/alerts",
		"GET:/v1/alerts/stats",
		"POST:/v1/alerts/:id/ack",
		"POST:/v1/protection/report",
		"GET:/v1/protection/status/:wallet",
		"GET:/v1/protection/history/:wallet",
		"POST:/v1/protection/lock",
		"POST:/v1/protection/freeze",
		"POST:/v1/protection/reset/:wallet",
		"GET:/v1/protection/high-risk",
		"POST:/v1/protection/blacklist",
		"POST:/v1/protection/whitelist",
		"GET:/v1/protection/stats",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Pipeline tests over HTTP
// ---------------------------------------------------------------------------

func TestReportToLockFlow(t *testing.T) {
	mg := &mockGuard{}
	s, err := New(testConfig(), WithGuard(mg))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	body := `{"wallet":"0xAAAA000000000000000000000000000000000001","patterns":["draining detected","blacklist interaction","unlimited approval"]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/protection/report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Score  int    `json:"score"`
			Action string `json:"action"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp.Data.Score != 95 {
		t.Errorf("Expected score 95, got %d", resp.Data.Score)
	}
	if resp.Data.Action != "locked" {
		t.Errorf("Expected action 'locked', got %q", resp.Data.Action)
	}
	if !mg.locked["0xaaaa000000000000000000000000000000000001"] {
		t.Error("Expected enforcement lock call for the wallet")
	}

	// The HIGH alert should now be queryable.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/alerts?level=HIGH", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from alert listing, got %d", w.Code)
	}
}

func TestOfflineServerStillServes(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api", nil)
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["offline"] != true {
		t.Errorf("Expected offline true without an RPC endpoint, got %v", resp["offline"])
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
