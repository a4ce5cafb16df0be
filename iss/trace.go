package iss

import (
	"fmt"
	"io"
)

// TraceEntry is one recorded instruction retirement, grounded on the
// ARM emulator's vm/trace.go TraceEntry shape.
type TraceEntry struct {
	Sequence uint64
	Address  uint64
	Mnemonic string
}

// InstructionTrace is the RISC-V analogue of the ARM emulator's ExecutionTrace:
// an optional, toggleable sink for per-instruction records, exported as
// plain text.
type InstructionTrace struct {
	Enabled    bool
	Writer     io.Writer
	MaxEntries int

	entries []TraceEntry
	seq     uint64
}

func NewInstructionTrace(w io.Writer) *InstructionTrace {
	return &InstructionTrace{Enabled: true, Writer: w, MaxEntries: 1_000_000, entries: make([]TraceEntry, 0, 1024)}
}

func (t *InstructionTrace) Record(addr uint64, mnemonic string) {
	if !t.Enabled {
		return
	}
	e := TraceEntry{Sequence: t.seq, Address: addr, Mnemonic: mnemonic}
	t.seq++
	if len(t.entries) < t.MaxEntries {
		t.entries = append(t.entries, e)
	}
	if t.Writer != nil {
		fmt.Fprintf(t.Writer, "%08d  0x%016x  %s\n", e.Sequence, e.Address, e.Mnemonic)
	}
}

func (t *InstructionTrace) Entries() []TraceEntry { return t.entries }
