// Package debugger implements an interactive gdb-style command
// debugger over an iss.Core: breakpoints, watchpoints, command
// history, and an expression evaluator operating on the hart's
// x0-x31 integer registers, 64-bit PC, and CSR file.
package debugger

import (
	"fmt"
	"strings"

	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/mmu"
)

// Debugger represents the debugger state and functionality
type Debugger struct {
	Core *iss.Core

	// Breakpoint management
	Breakpoints *BreakpointManager

	// Watchpoint management
	Watchpoints *WatchpointManager

	// Command history
	History *CommandHistory

	// Expression evaluator
	Evaluator *ExpressionEvaluator

	// Execution control
	Running           bool
	StepMode          StepMode
	StepOverCallDepth int    // Track call depth for step over
	StepOverPC        uint64 // PC to return to after step over

	// Symbol table (for label/symbol resolution)
	Symbols map[string]uint64

	// Source code mapping (address -> source line)
	SourceMap map[uint64]string

	// Last command (for repeat on empty input)
	LastCommand string

	// Output buffer
	Output strings.Builder
}

// StepMode represents different stepping modes
type StepMode int

const (
	StepNone   StepMode = iota // Not stepping
	StepSingle                 // Step one instruction
	StepOver                   // Step over function calls
	StepOut                    // Step out of current function
)

// NewDebugger creates a new debugger instance
func NewDebugger(core *iss.Core) *Debugger {
	return &Debugger{
		Core:        core,
		Breakpoints: NewBreakpointManager(),
		Watchpoints: NewWatchpointManager(),
		History:     NewCommandHistory(),
		Evaluator:   NewExpressionEvaluator(),
		Running:     false,
		StepMode:    StepNone,
		Symbols:     make(map[string]uint64),
		SourceMap:   make(map[uint64]string),
	}
}

// readMemWord reads one 32-bit little-endian word from guest virtual
// memory, the shared helper behind watchpoints, expression
// dereferences, and the stack views.
func readMemWord(core *iss.Core, vaddr uint64) (uint64, error) {
	paddr, err := core.Translate(vaddr, mmu.AccessLoad)
	if err != nil {
		return 0, err
	}
	v, err := core.Bus.LoadWord(paddr)
	return uint64(v), err
}

// writeMemWord writes one 32-bit little-endian word to guest virtual
// memory, used by the "set" command's *addr = value form.
func writeMemWord(core *iss.Core, vaddr uint64, value uint32) error {
	paddr, err := core.Translate(vaddr, mmu.AccessStore)
	if err != nil {
		return err
	}
	return core.Bus.StoreWord(paddr, value)
}

// LoadSymbols loads the symbol table for label resolution
func (d *Debugger) LoadSymbols(symbols map[string]uint64) {
	d.Symbols = symbols
}

// LoadSourceMap loads the source code mapping
func (d *Debugger) LoadSourceMap(sourceMap map[uint64]string) {
	d.SourceMap = sourceMap
}

// ResolveAddress resolves a label to an address, or parses a numeric address
func (d *Debugger) ResolveAddress(addrStr string) (uint64, error) {
	if addr, exists := d.Symbols[addrStr]; exists {
		return addr, nil
	}

	var addr uint64
	if strings.HasPrefix(addrStr, "0x") || strings.HasPrefix(addrStr, "0X") {
		_, err := fmt.Sscanf(addrStr, "0x%x", &addr)
		if err != nil {
			return 0, fmt.Errorf("invalid address: %s", addrStr)
		}
	} else {
		_, err := fmt.Sscanf(addrStr, "%d", &addr)
		if err != nil {
			return 0, fmt.Errorf("invalid address: %s", addrStr)
		}
	}

	return addr, nil
}

// ExecuteCommand processes and executes a debugger command
func (d *Debugger) ExecuteCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)

	if cmdLine == "" {
		cmdLine = d.LastCommand
	}

	if cmdLine != "" {
		d.History.Add(cmdLine)
		d.LastCommand = cmdLine
	}

	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	return d.handleCommand(cmd, args)
}

// handleCommand dispatches commands to appropriate handlers
func (d *Debugger) handleCommand(cmd string, args []string) error {
	switch cmd {
	case "run", "r":
		return d.cmdRun(args)
	case "continue", "c":
		return d.cmdContinue(args)
	case "step", "s", "si":
		return d.cmdStep(args)
	case "next", "n":
		return d.cmdNext(args)
	case "finish", "fin":
		return d.cmdFinish(args)

	case "break", "b":
		return d.cmdBreak(args)
	case "tbreak", "tb":
		return d.cmdTBreak(args)
	case "delete", "d":
		return d.cmdDelete(args)
	case "enable":
		return d.cmdEnable(args)
	case "disable":
		return d.cmdDisable(args)

	case "watch", "w":
		return d.cmdWatch(args)
	case "rwatch":
		return d.cmdRWatch(args)
	case "awatch":
		return d.cmdAWatch(args)

	case "print", "p":
		return d.cmdPrint(args)
	case "x":
		return d.cmdExamine(args)
	case "info", "i":
		return d.cmdInfo(args)
	case "backtrace", "bt", "where":
		return d.cmdBacktrace(args)
	case "list", "l":
		return d.cmdList(args)

	case "set":
		return d.cmdSet(args)

	case "load":
		return d.cmdLoad(args)
	case "reset":
		return d.cmdReset(args)
	case "history":
		return d.cmdHistory(args)

	case "help", "h", "?":
		return d.cmdHelp(args)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// checkInstrAlign rejects a breakpoint address that can never be a valid
// instruction boundary: halfword-aligned always, word-aligned when the
// hart has no C extension (mirrors checkAlign's control-transfer rule in
// package iss).
func (d *Debugger) checkInstrAlign(addr uint64) error {
	if addr&0x1 != 0 {
		return fmt.Errorf("address 0x%016X is not halfword-aligned", addr)
	}
	if !d.Core.DecodeOpts.C && addr&0x3 != 0 {
		return fmt.Errorf("address 0x%016X is not word-aligned (C extension disabled)", addr)
	}
	return nil
}

// ShouldBreak checks if execution should pause at the current PC
func (d *Debugger) ShouldBreak() (bool, string) {
	pc := d.Core.Hart.PC

	switch d.StepMode {
	case StepSingle:
		d.StepMode = StepNone
		return true, "single step"

	case StepOver:
		if pc == d.StepOverPC {
			d.StepMode = StepNone
			return true, "step over complete"
		}

	case StepOut:
		// This would require call stack tracking
	}

	if bp := d.Breakpoints.GetBreakpoint(pc); bp != nil {
		if !bp.Enabled {
			return false, ""
		}

		if bp.Condition != "" {
			result, err := d.Evaluator.Evaluate(bp.Condition, d.Core, d.Symbols)
			if err != nil {
				return true, fmt.Sprintf("breakpoint %d (condition error: %v)", bp.ID, err)
			}
			if !result {
				return false, ""
			}
		}

		hit := d.Breakpoints.ProcessHit(pc)
		return true, fmt.Sprintf("breakpoint %d", hit.ID)
	}

	if wp, changed := d.Watchpoints.CheckWatchpoints(d.Core); wp != nil && changed {
		return true, fmt.Sprintf("watchpoint %d: %s", wp.ID, wp.Expression)
	}

	return false, ""
}

// GetOutput returns and clears the output buffer
func (d *Debugger) GetOutput() string {
	output := d.Output.String()
	d.Output.Reset()
	return output
}

// Printf writes formatted output to the output buffer
func (d *Debugger) Printf(format string, args ...interface{}) {
	d.Output.WriteString(fmt.Sprintf(format, args...))
}

// Println writes a line to the output buffer
func (d *Debugger) Println(args ...interface{}) {
	d.Output.WriteString(fmt.Sprintln(args...))
}

// SetStepOver configures the debugger to step over function calls.
// JAL/JALR with rd != x0 is this ISA's call convention (the analogue
// of the ARM emulator's BL-instruction check), so stepping over one means
// running until control returns to the instruction after it.
func (d *Debugger) SetStepOver() {
	pc := d.Core.Hart.PC
	paddr, err := d.Core.Translate(pc, mmu.AccessFetch)
	if err != nil {
		d.StepMode = StepSingle
		d.Running = true
		return
	}

	word, err := d.Core.Bus.LoadWord(paddr)
	if err != nil {
		d.StepMode = StepSingle
		d.Running = true
		return
	}

	isCall := isCallInstruction(word)

	if isCall {
		d.StepOverPC = pc + 4
		d.StepMode = StepOver
		d.Running = true
	} else {
		d.StepMode = StepSingle
		d.Running = true
	}
}

// isCallInstruction reports whether raw is a JAL/JALR that writes a
// return address (rd != x0), this platform's notion of a function call.
func isCallInstruction(raw uint32) bool {
	opcode := raw & 0x7F
	rd := (raw >> 7) & 0x1F
	switch opcode {
	case 0x6F, 0x67: // JAL, JALR
		return rd != 0
	}
	return false
}

// SetStepOut configures the debugger to step out of the current function
func (d *Debugger) SetStepOut() {
	d.StepMode = StepOut
	d.Running = true
}
