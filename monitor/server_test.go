package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/membus"
	"github.com/lookbusy1344/riscv-vp/mmu"
)

func newTestServer(t *testing.T) (*Server, *iss.Core) {
	t.Helper()
	bus := membus.NewBus()
	bus.AddRegion("ram", 0, 0x10000, membus.PermRead|membus.PermWrite|membus.PermExecute, true)
	h := hart.NewHart(64, 0, 0, 0)
	core := iss.NewCore(h, bus, mmu.New(bus), membus.NewAtomicUnit(bus), true)
	return NewServer([]*iss.Core{core}, "test"), core
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Harts != 1 {
		t.Errorf("Harts = %d, want 1", resp.Harts)
	}
}

func TestHandleListHarts(t *testing.T) {
	s, core := newTestServer(t)
	core.Hart.Int.Set(10, 42)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/harts", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var states []HartState
	if err := json.Unmarshal(w.Body.Bytes(), &states); err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Fatalf("len(states) = %d, want 1", len(states))
	}
	if states[0].Regs[10] != 42 {
		t.Errorf("Regs[10] = %d, want 42", states[0].Regs[10])
	}
}

func TestHandleHartNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/harts/99", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleStep(t *testing.T) {
	s, core := newTestServer(t)

	// addi x1, x0, 5
	const addi = 0x00500093
	if err := core.Bus.StoreWord(0, addi); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/harts/0/step", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}

	var state HartState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatal(err)
	}
	if state.Regs[1] != 5 {
		t.Errorf("Regs[1] = %d, want 5", state.Regs[1])
	}
	if state.PC != 4 {
		t.Errorf("PC = %d, want 4", state.PC)
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8080", true},
		{"file:///tmp/x.html", true},
		{"https://evil.example.com", false},
	}
	for _, tc := range cases {
		if got := isAllowedOrigin(tc.origin); got != tc.want {
			t.Errorf("isAllowedOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
