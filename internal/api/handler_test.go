package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/poolwarden/poolwarden/internal/config"
	"github.com/poolwarden/poolwarden/internal/domain"
	"github.com/poolwarden/poolwarden/internal/pool"
	"github.com/poolwarden/poolwarden/pkg/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockPool implements Pool for testing.
type MockPool struct {
	mu         sync.Mutex
	assigned   map[string]string
	next       int
	acquireErr error
	stopped    []string
	drained    bool
	lastCfg    pool.Config
}

func NewMockPool() *MockPool {
	return &MockPool{assigned: make(map[string]string)}
}

func (m *MockPool) GetInstance(ctx context.Context, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity == "" {
		return "", domain.ErrIdentityRequired
	}
	if m.acquireErr != nil {
		return "", m.acquireErr
	}
	if id, ok := m.assigned[identity]; ok {
		return id, nil
	}
	m.next++
	id := "inst-" + string(rune('0'+m.next))
	m.assigned[identity] = id
	return id, nil
}

func (m *MockPool) ReportStopped(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, instanceID)
	return nil
}

func (m *MockPool) ShutdownIdle(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drained = true
	return nil
}

func (m *MockPool) Stats() domain.PoolStats {
	return domain.PoolStats{Warm: 2, Assigned: 1, Total: 3, WarmTarget: 5}
}

func (m *MockPool) Configure(cfg pool.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCfg = cfg
}

func newTestHandler(p Pool) *Handler {
	cfg := &config.Config{
		Pool:    config.PoolConfig{Name: "test"},
		Backend: config.BackendConfig{Mode: "docker"},
	}
	return NewHandler(cfg, p, nil, logging.Nop())
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", response["status"])
	}
}

func TestAcquire(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	body := bytes.NewBufferString(`{"identity":"user-1"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/instances/acquire", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp acquireResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Identity != "user-1" {
		t.Errorf("identity = %q, want user-1", resp.Identity)
	}
	if resp.InstanceID == "" {
		t.Error("instance_id is empty")
	}
}

func TestAcquire_MissingIdentity(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	body := bytes.NewBufferString(`{}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/instances/acquire", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAcquire_CapacityExceeded(t *testing.T) {
	p := NewMockPool()
	p.acquireErr = &domain.CapacityExceededError{Used: 3, Limit: 3}
	router := newTestHandler(p).Router()

	body := bytes.NewBufferString(`{"identity":"user-1"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/instances/acquire", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != "CAPACITY_EXCEEDED" {
		t.Errorf("code = %q, want CAPACITY_EXCEEDED", resp.Code)
	}
}

func TestAcquire_StartFailed(t *testing.T) {
	p := NewMockPool()
	p.acquireErr = &domain.StartError{Err: context.DeadlineExceeded}
	router := newTestHandler(p).Router()

	body := bytes.NewBufferString(`{"identity":"user-1"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/instances/acquire", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected status %d, got %d", http.StatusBadGateway, w.Code)
	}
}

func TestStopped(t *testing.T) {
	p := NewMockPool()
	router := newTestHandler(p).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/instances/inst-42/stopped", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}
	if len(p.stopped) != 1 || p.stopped[0] != "inst-42" {
		t.Errorf("stopped reports = %v, want [inst-42]", p.stopped)
	}
}

func TestPoolStats(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/pool/stats", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var stats domain.PoolStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if stats.Warm != 2 || stats.Assigned != 1 {
		t.Errorf("stats = warm %d assigned %d, want 2/1", stats.Warm, stats.Assigned)
	}
}

func TestDrain(t *testing.T) {
	p := NewMockPool()
	router := newTestHandler(p).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/pool/drain", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !p.drained {
		t.Error("drain did not reach the pool")
	}
}

func TestConfigure(t *testing.T) {
	p := NewMockPool()
	router := newTestHandler(p).Router()

	body := bytes.NewBufferString(`{"warm_target":8,"refresh_interval":"45s"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/v1/pool/config", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if p.lastCfg.WarmTarget != 8 {
		t.Errorf("warm target = %d, want 8", p.lastCfg.WarmTarget)
	}
	if p.lastCfg.RefreshInterval.Seconds() != 45 {
		t.Errorf("refresh interval = %v, want 45s", p.lastCfg.RefreshInterval)
	}
}

func TestConfigure_InvalidInterval(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	body := bytes.NewBufferString(`{"warm_target":8,"refresh_interval":"sometimes"}`)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/v1/pool/config", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestNotFoundRoute(t *testing.T) {
	router := newTestHandler(NewMockPool()).Router()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/nonexistent", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d for nonexistent route, got %d", http.StatusNotFound, w.Code)
	}
}
