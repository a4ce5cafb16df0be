// Package monitor implements a small JSON/WebSocket introspection
// server over a set of running iss.Core harts, grounded on the
// ARM emulator's api/server.go route layout and api/websocket.go streaming
// shape. Unlike the ARM emulator's api package, this is not a multi-session
// program-launching control plane: it watches harts wired up by
// cmd/rvvp, not ones it creates itself, and has no GDB remote-serial
// protocol support (that stub is explicitly out of scope).
package monitor

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/iss"
)

// Server serves hart state to HTTP clients and step/halt events to
// WebSocket clients.
type Server struct {
	cores       []*iss.Core
	broadcaster *Broadcaster
	mux         *http.ServeMux
	version     string
}

// NewServer builds a monitor server watching the given cores.
func NewServer(cores []*iss.Core, version string) *Server {
	s := &Server{
		cores:       cores,
		broadcaster: NewBroadcaster(),
		mux:         http.NewServeMux(),
		version:     version,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler, CORS-restricted to localhost
// origins like the ARM emulator's corsMiddleware.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/v1/harts", s.handleListHarts)
	s.mux.HandleFunc("/api/v1/harts/", s.handleHartRoute)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "file://") {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: s.version, Harts: len(s.cores)})
}

func (s *Server) handleListHarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	states := make([]HartState, len(s.cores))
	for i, c := range s.cores {
		states[i] = hartState(i, c)
	}
	writeJSON(w, http.StatusOK, states)
}

// handleHartRoute handles /api/v1/harts/{id} and /api/v1/harts/{id}/step.
func (s *Server) handleHartRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/harts/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "hart id required")
		return
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil || id < 0 || id >= len(s.cores) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no such hart: %s", parts[0]))
		return
	}
	core := s.cores[id]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, hartState(id, core))
		return
	}

	switch parts[1] {
	case "step":
		s.handleStep(w, r, id, core)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action: %s", parts[1]))
	}
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, id int, core *iss.Core) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := core.Step(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := hartState(id, core)
	s.broadcaster.Broadcast(BroadcastEvent{
		Type:   EventStep,
		HartID: id,
		Data:   map[string]interface{}{"pc": state.PC, "state": state.State, "time": time.Now().Format(time.RFC3339)},
	})
	if core.State == iss.StateHalted {
		s.broadcaster.Broadcast(BroadcastEvent{Type: EventHalt, HartID: id, Data: map[string]interface{}{"pc": state.PC}})
	}

	writeJSON(w, http.StatusOK, state)
}

func hartState(id int, c *iss.Core) HartState {
	h := c.Hart
	st := HartState{ID: id, XLEN: h.XLEN, PC: h.PC, Priv: h.Priv.String(), State: stateName(c.State)}
	for i := 0; i < 32; i++ {
		st.Regs[i] = h.Int.Get(uint32(i))
	}
	st.Mstatus, _ = h.CSR.Get(hart.CsrMstatus, hart.PrivM)
	st.Mcause, _ = h.CSR.Get(hart.CsrMcause, hart.PrivM)
	st.Mepc, _ = h.CSR.Get(hart.CsrMepc, hart.PrivM)
	return st
}

func stateName(s iss.State) string {
	switch s {
	case iss.StateRunning:
		return "running"
	case iss.StateHalted:
		return "halted"
	case iss.StateBreakpoint:
		return "breakpoint"
	case iss.StateError:
		return "error"
	default:
		return "unknown"
	}
}
