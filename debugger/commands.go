package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/mmu"
)

// Command handler implementations

// cmdRun starts or restarts program execution from the hart's current PC.
func (d *Debugger) cmdRun(args []string) error {
	d.Core.State = iss.StateRunning
	d.Running = true
	d.StepMode = StepNone

	d.Println("Starting program execution...")
	return nil
}

// cmdContinue continues execution from current point
func (d *Debugger) cmdContinue(args []string) error {
	if d.Core.State == iss.StateHalted {
		return fmt.Errorf("program is not running")
	}

	d.Core.State = iss.StateRunning
	d.Running = true
	d.StepMode = StepNone

	d.Println("Continuing...")
	return nil
}

// cmdStep executes a single instruction
func (d *Debugger) cmdStep(args []string) error {
	d.StepMode = StepSingle
	d.Running = true
	return nil
}

// cmdNext steps over function calls (step to next instruction at same level)
func (d *Debugger) cmdNext(args []string) error {
	d.SetStepOver()
	return nil
}

// cmdFinish steps out of current function
func (d *Debugger) cmdFinish(args []string) error {
	d.SetStepOut()
	return nil
}

// cmdBreak sets a breakpoint
func (d *Debugger) cmdBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: break <address|label> [if <condition>]")
	}

	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}
	if err := d.checkInstrAlign(address); err != nil {
		return err
	}

	var condition string
	if len(args) > 1 && strings.ToLower(args[1]) == "if" {
		condition = strings.Join(args[2:], " ")
	}

	if d.Breakpoints.HasBreakpoint(address) {
		d.Printf("breakpoint already set at 0x%016X, updating it\n", address)
	}
	bp := d.Breakpoints.AddBreakpoint(address, false, condition)

	if condition != "" {
		d.Printf("Breakpoint %d at 0x%016X (condition: %s)\n", bp.ID, address, condition)
	} else {
		d.Printf("Breakpoint %d at 0x%016X\n", bp.ID, address)
	}

	return nil
}

// cmdTBreak sets a temporary breakpoint (auto-delete after hit)
func (d *Debugger) cmdTBreak(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tbreak <address|label>")
	}

	address, err := d.ResolveAddress(args[0])
	if err != nil {
		return err
	}
	if err := d.checkInstrAlign(address); err != nil {
		return err
	}

	bp := d.Breakpoints.AddBreakpoint(address, true, "")
	d.Printf("Temporary breakpoint %d at 0x%016X\n", bp.ID, address)

	return nil
}

// cmdDelete deletes breakpoint(s)
func (d *Debugger) cmdDelete(args []string) error {
	if len(args) == 0 {
		d.Breakpoints.Clear()
		d.Println("All breakpoints deleted")
		return nil
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	bp := d.Breakpoints.GetBreakpointByID(id)
	if err := d.Breakpoints.DeleteBreakpoint(id); err != nil {
		return err
	}

	if bp != nil {
		d.Printf("Breakpoint %d at 0x%016X deleted\n", id, bp.Address)
	} else {
		d.Printf("Breakpoint %d deleted\n", id)
	}
	return nil
}

// cmdEnable enables breakpoint(s)
func (d *Debugger) cmdEnable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: enable <breakpoint-id>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	if err := d.Breakpoints.EnableBreakpoint(id); err != nil {
		return err
	}

	d.Printf("Breakpoint %d enabled\n", id)
	return nil
}

// cmdDisable disables breakpoint(s)
func (d *Debugger) cmdDisable(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: disable <breakpoint-id>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid breakpoint ID: %s", args[0])
	}

	if err := d.Breakpoints.DisableBreakpoint(id); err != nil {
		return err
	}

	d.Printf("Breakpoint %d disabled\n", id)
	return nil
}

// cmdWatch sets a write watchpoint
func (d *Debugger) cmdWatch(args []string) error {
	return d.addWatch(args, WatchWrite, "Watchpoint")
}

// cmdRWatch sets a read watchpoint
func (d *Debugger) cmdRWatch(args []string) error {
	return d.addWatch(args, WatchRead, "Read watchpoint")
}

// cmdAWatch sets a read/write watchpoint
func (d *Debugger) cmdAWatch(args []string) error {
	return d.addWatch(args, WatchReadWrite, "Access watchpoint")
}

func (d *Debugger) addWatch(args []string, kind WatchType, label string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s <expression>", strings.ToLower(label))
	}

	expression := strings.Join(args, " ")
	isRegister, register, address, err := d.parseWatchExpression(expression)
	if err != nil {
		return err
	}

	wp := d.Watchpoints.AddWatchpoint(kind, expression, address, isRegister, register)

	if err := d.Watchpoints.InitializeWatchpoint(wp.ID, d.Core); err != nil {
		_ = d.Watchpoints.DeleteWatchpoint(wp.ID)
		return err
	}

	d.Printf("%s %d: %s\n", label, wp.ID, expression)
	return nil
}

// parseWatchExpression parses a watch expression (register or memory address)
func (d *Debugger) parseWatchExpression(expr string) (isRegister bool, register int, address uint64, err error) {
	expr = strings.ToLower(strings.TrimSpace(expr))

	if expr == "pc" {
		return false, 0, 0, fmt.Errorf("watching pc directly is not supported; use a breakpoint instead")
	}

	if reg, ok := regAliases[expr]; ok {
		return true, reg, 0, nil
	}

	if strings.HasPrefix(expr, "x") {
		var regNum int
		if _, scanErr := fmt.Sscanf(expr, "x%d", &regNum); scanErr == nil && regNum >= 0 && regNum <= 31 {
			return true, regNum, 0, nil
		}
	}

	if strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]") {
		addrStr := strings.TrimSuffix(strings.TrimPrefix(expr, "["), "]")
		addr, rerr := d.ResolveAddress(addrStr)
		if rerr != nil {
			return false, 0, 0, rerr
		}
		return false, 0, addr, nil
	}

	addr, rerr := d.ResolveAddress(expr)
	if rerr != nil {
		return false, 0, 0, fmt.Errorf("invalid watch expression: %s", expr)
	}

	return false, 0, addr, nil
}

// cmdPrint evaluates and prints an expression
func (d *Debugger) cmdPrint(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: print <expression>")
	}

	expression := strings.Join(args, " ")
	result, err := d.Evaluator.EvaluateExpression(expression, d.Core, d.Symbols)
	if err != nil {
		return err
	}

	d.Printf("$%d = 0x%016X (%d)\n", d.Evaluator.GetValueNumber(), result, int64(result))
	return nil
}

// cmdExamine examines memory at an address
func (d *Debugger) cmdExamine(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: x[/nfu] <address>\n  n: count, f: format (x/d/u/o/t), u: unit size (b/h/w/g)")
	}

	count := 1
	format := 'x'
	unit := 'w'
	addrArg := args[0]

	if strings.HasPrefix(args[0], "/") {
		formatStr := args[0][1:]
		if len(args) < 2 {
			return fmt.Errorf("missing address")
		}
		addrArg = args[1]

		i := 0
		for i < len(formatStr) && formatStr[i] >= '0' && formatStr[i] <= '9' {
			i++
		}
		if i > 0 {
			if n, err := strconv.Atoi(formatStr[:i]); err == nil {
				count = n
			}
			formatStr = formatStr[i:]
		}

		if len(formatStr) > 0 {
			format = rune(formatStr[0])
			formatStr = formatStr[1:]
		}

		if len(formatStr) > 0 {
			unit = rune(formatStr[0])
		}
	}

	address, err := d.ResolveAddress(addrArg)
	if err != nil {
		return err
	}

	d.Printf("0x%016X:", address)
	for i := 0; i < count; i++ {
		var value uint64
		var readErr error

		paddr, terr := d.Core.Translate(address, mmu.AccessLoad)
		if terr != nil {
			return terr
		}

		switch unit {
		case 'b':
			v, e := d.Core.Bus.LoadByte(paddr)
			value, readErr = uint64(v), e
			address++
		case 'h':
			v, e := d.Core.Bus.LoadHalf(paddr)
			value, readErr = uint64(v), e
			address += 2
		case 'g':
			value, readErr = d.Core.Bus.LoadDouble(paddr)
			address += 8
		default: // 'w'
			v, e := d.Core.Bus.LoadWord(paddr)
			value, readErr = uint64(v), e
			address += 4
		}

		if readErr != nil {
			return readErr
		}

		switch format {
		case 'd':
			d.Printf(" %d", int64(value))
		case 'u':
			d.Printf(" %d", value)
		case 'o':
			d.Printf(" %o", value)
		case 't':
			d.Printf(" %b", value)
		default:
			d.Printf(" 0x%016X", value)
		}
	}
	d.Println()

	return nil
}

// cmdInfo displays information about program state
func (d *Debugger) cmdInfo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: info <registers|csr|breakpoints|watchpoints|stack>")
	}

	switch strings.ToLower(args[0]) {
	case "registers", "reg", "r":
		return d.showRegisters()
	case "csr", "csrs":
		return d.showCSRs()
	case "breakpoints", "break", "b":
		return d.showBreakpoints()
	case "watchpoints", "watch", "w":
		return d.showWatchpoints()
	case "stack", "s":
		return d.showStack()
	default:
		return fmt.Errorf("unknown info command: %s", args[0])
	}
}

// showRegisters displays all integer register values, pc, and current
// privilege level.
func (d *Debugger) showRegisters() error {
	h := d.Core.Hart
	d.Println("Registers:")
	for i := uint32(0); i < 32; i++ {
		d.Printf("  x%-2d = 0x%016X (%d)\n", i, h.Int.Get(i), int64(h.Int.Get(i)))
	}
	d.Printf("  pc  = 0x%016X\n", h.PC)
	d.Printf("  priv = %s\n", h.Priv)

	return nil
}

// showCSRs displays the commonly-inspected privileged CSRs for the
// hart's current privilege.
func (d *Debugger) showCSRs() error {
	h := d.Core.Hart
	names := []struct {
		name string
		addr uint32
	}{
		{"mstatus", hart.CsrMstatus}, {"misa", hart.CsrMisa},
		{"mie", hart.CsrMie}, {"mip", hart.CsrMip},
		{"mtvec", hart.CsrMtvec}, {"mepc", hart.CsrMepc},
		{"mcause", hart.CsrMcause}, {"mtval", hart.CsrMtval},
		{"medeleg", hart.CsrMedeleg}, {"mideleg", hart.CsrMideleg},
		{"satp", hart.CsrSatp},
	}

	d.Println("CSRs:")
	for _, n := range names {
		v, err := h.CSR.Get(n.addr, hart.PrivM)
		if err != nil {
			continue
		}
		d.Printf("  %-10s = 0x%016X\n", n.name, v)
	}

	return nil
}

// showBreakpoints displays all breakpoints
func (d *Debugger) showBreakpoints() error {
	breakpoints := d.Breakpoints.GetAllBreakpoints()
	if len(breakpoints) == 0 {
		d.Println("No breakpoints")
		return nil
	}

	d.Println("Breakpoints:")
	for _, bp := range breakpoints {
		status := "enabled"
		if !bp.Enabled {
			status = "disabled"
		}

		temp := ""
		if bp.Temporary {
			temp = " (temporary)"
		}

		condition := ""
		if bp.Condition != "" {
			condition = fmt.Sprintf(" if %s", bp.Condition)
		}

		d.Printf("  %d: 0x%016X %s%s%s (hit %d times)\n",
			bp.ID, bp.Address, status, temp, condition, bp.HitCount)
	}

	return nil
}

// showWatchpoints displays all watchpoints
func (d *Debugger) showWatchpoints() error {
	watchpoints := d.Watchpoints.GetAllWatchpoints()
	if len(watchpoints) == 0 {
		d.Println("No watchpoints")
		return nil
	}

	d.Println("Watchpoints:")
	for _, wp := range watchpoints {
		status := "enabled"
		if !wp.Enabled {
			status = "disabled"
		}

		wpType := "write"
		if wp.Type == WatchRead {
			wpType = "read"
		} else if wp.Type == WatchReadWrite {
			wpType = "access"
		}

		d.Printf("  %d: %s %s %s (hit %d times, last value: 0x%016X)\n",
			wp.ID, wp.Expression, wpType, status, wp.HitCount, wp.LastValue)
	}

	return nil
}

// showStack displays stack contents (sp is the ABI x2 register)
func (d *Debugger) showStack() error {
	sp := d.Core.Hart.Int.Get(2)
	d.Printf("Stack (sp = 0x%016X):\n", sp)

	for i := uint64(0); i < 8; i++ {
		addr := sp + i*8
		value, err := readMemWord(d.Core, addr)
		if err != nil {
			break
		}
		d.Printf("  0x%016X: 0x%016X (%d)\n", addr, value, int64(value))
	}

	return nil
}

// cmdBacktrace shows the call stack (pc and the return-address register)
func (d *Debugger) cmdBacktrace(args []string) error {
	d.Println("Call stack:")
	d.Printf("  #0  pc=0x%016X\n", d.Core.Hart.PC)

	ra := d.Core.Hart.Int.Get(1)
	if ra != 0 {
		d.Printf("  #1  ra=0x%016X\n", ra)
	}

	return nil
}

// cmdList shows source code around current PC
func (d *Debugger) cmdList(args []string) error {
	pc := d.Core.Hart.PC

	if source, exists := d.SourceMap[pc]; exists {
		d.Printf("=> 0x%016X: %s\n", pc, source)
	} else {
		d.Printf("=> 0x%016X: <no source>\n", pc)
	}

	for offset := uint64(2); offset <= 16; offset += 2 {
		addr := pc + offset
		if source, exists := d.SourceMap[addr]; exists {
			d.Printf("   0x%016X: %s\n", addr, source)
		}
	}

	return nil
}

// cmdSet modifies register or memory values
func (d *Debugger) cmdSet(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: set <register|*address> = <value>")
	}

	if args[1] != "=" {
		return fmt.Errorf("usage: set <register|*address> = <value>")
	}

	target := strings.ToLower(args[0])
	valueStr := args[2]

	value, err := d.Evaluator.EvaluateExpression(valueStr, d.Core, d.Symbols)
	if err != nil {
		return err
	}

	if strings.HasPrefix(target, "*") {
		addrStr := target[1:]
		address, aerr := d.ResolveAddress(addrStr)
		if aerr != nil {
			return aerr
		}

		if err := writeMemWord(d.Core, address, uint32(value)); err != nil {
			return err
		}

		d.Printf("Memory 0x%016X set to 0x%016X\n", address, value)
		return nil
	}

	if target == "pc" {
		d.Core.Hart.PC = value
		d.Printf("pc set to 0x%016X\n", value)
		return nil
	}

	register := -1
	if reg, ok := regAliases[target]; ok {
		register = reg
	} else if strings.HasPrefix(target, "x") {
		if _, serr := fmt.Sscanf(target, "x%d", &register); serr != nil || register < 0 || register > 31 {
			return fmt.Errorf("invalid register: %s", target)
		}
	} else {
		return fmt.Errorf("invalid target: %s", target)
	}

	d.Core.Hart.Int.Set(uint32(register), value)
	d.Printf("Register %s set to 0x%016X\n", target, value)

	return nil
}

// cmdLoad loads a program (placeholder; ELF loading happens at startup
// via cmd/rvvp, not from inside the debugger session)
func (d *Debugger) cmdLoad(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: load <filename>")
	}

	d.Printf("Load command not yet implemented for file: %s\n", args[0])
	return nil
}

// cmdReset reports that a reset is not supported mid-session; it leaves
// the pc, registers and guest memory unchanged.
func (d *Debugger) cmdReset(args []string) error {
	d.Println("Reset is not supported mid-session; restart the process to reload the guest image")
	return nil
}

// cmdHistory lists previously executed commands, or clears the list when
// invoked as "history clear".
func (d *Debugger) cmdHistory(args []string) error {
	if len(args) > 0 && args[0] == "clear" {
		d.History.Clear()
		d.Println("command history cleared")
		return nil
	}
	for i, cmd := range d.History.GetAll() {
		d.Println(fmt.Sprintf("%4d  %s", i+1, cmd))
	}
	return nil
}

// cmdHelp displays help information
func (d *Debugger) cmdHelp(args []string) error {
	if len(args) > 0 {
		return d.showCommandHelp(args[0])
	}

	d.Println("RISC-V VP Debugger Commands:")
	d.Println()
	d.Println("Execution Control:")
	d.Println("  run (r)           - Start program execution")
	d.Println("  continue (c)      - Continue execution")
	d.Println("  step (s, si)      - Execute single instruction")
	d.Println("  next (n)          - Step over function calls")
	d.Println("  finish (fin)      - Step out of current function")
	d.Println()
	d.Println("Breakpoints:")
	d.Println("  break (b) <addr>  - Set breakpoint")
	d.Println("  tbreak (tb) <addr>- Set temporary breakpoint")
	d.Println("  delete (d) [id]   - Delete breakpoint(s)")
	d.Println("  enable <id>       - Enable breakpoint")
	d.Println("  disable <id>      - Disable breakpoint")
	d.Println()
	d.Println("Watchpoints:")
	d.Println("  watch (w) <expr>  - Watch for writes")
	d.Println("  rwatch <expr>     - Watch for reads")
	d.Println("  awatch <expr>     - Watch for access")
	d.Println()
	d.Println("Inspection:")
	d.Println("  print (p) <expr>  - Evaluate expression")
	d.Println("  x[/nfu] <addr>    - Examine memory")
	d.Println("  info (i) <what>   - Show information (registers, csr, breakpoints, watchpoints, stack)")
	d.Println("  backtrace (bt)    - Show call stack")
	d.Println("  list (l)          - List source code")
	d.Println()
	d.Println("Modification:")
	d.Println("  set <var> = <val> - Modify register/memory")
	d.Println()
	d.Println("Control:")
	d.Println("  help (h, ?)       - Show this help")
	d.Println()
	d.Println("Type 'help <command>' for detailed help on a specific command.")

	return nil
}

// showCommandHelp shows detailed help for a specific command
func (d *Debugger) showCommandHelp(cmd string) error {
	helpText := map[string]string{
		"break": "break <address|label> [if <condition>]\n  Set a breakpoint at the specified address or label.\n  Optional condition will be evaluated each time.",
		"step":  "step\n  Execute a single instruction.",
		"next":  "next\n  Step over function calls (execute until next instruction at same level).",
		"print": "print <expression>\n  Evaluate and print an expression.\n  Expressions can include registers, memory, symbols, and arithmetic.",
		"x":     "x[/nfu] <address>\n  Examine memory.\n  n: count, f: format (x/d/u/o/t), u: unit (b/h/w/g)",
		"info":  "info <registers|csr|breakpoints|watchpoints|stack>\n  Display information about program state.",
	}

	if help, exists := helpText[cmd]; exists {
		d.Println(help)
		return nil
	}

	return fmt.Errorf("no help available for command: %s", cmd)
}
