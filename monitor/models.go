package monitor

// HartState is the JSON view of one hart's architectural state, the
// monitor analogue of the ARM emulator's api/models.go register/status
// payloads, generalized from ARM's R0-R15/CPSR to x0-x31/pc/csr.
type HartState struct {
	ID      int        `json:"id"`
	XLEN    int        `json:"xlen"`
	PC      uint64     `json:"pc"`
	Priv    string     `json:"priv"`
	Regs    [32]uint64 `json:"regs"`
	Mstatus uint64     `json:"mstatus"`
	Mcause  uint64     `json:"mcause"`
	Mepc    uint64     `json:"mepc"`
	State   string     `json:"state"`
}

// ErrorResponse is the JSON error envelope, identical in shape to the
// ARM emulator's api/models.go ErrorResponse.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is served by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Harts   int    `json:"harts"`
}
