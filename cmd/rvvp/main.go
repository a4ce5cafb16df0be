// Command rvvp is the RISC-V Virtual Platform's command-line driver: it
// loads a RISC-V ELF binary, builds one or more harts sharing a bus, and
// either free-runs them to completion, drops into the command-line or
// TUI debugger, or serves the monitor's JSON/WebSocket introspection
// API, mirroring the ARM emulator's main.go mode-selection flag layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/lookbusy1344/riscv-vp/clock"
	"github.com/lookbusy1344/riscv-vp/config"
	"github.com/lookbusy1344/riscv-vp/debugger"
	"github.com/lookbusy1344/riscv-vp/elfload"
	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/membus"
	"github.com/lookbusy1344/riscv-vp/mmu"
	"github.com/lookbusy1344/riscv-vp/monitor"
	"github.com/lookbusy1344/riscv-vp/syscallemu"
)

// Version, Commit, and Date are overridden at build time via -ldflags,
// the same release-stamping convention as the ARM emulator's main.go.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

const defaultRAMSize = 256 << 20 // 256MB, sized well above any test ELF

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var (
		showVersion = flag.Bool("version", false, "print version information and exit")
		showHelp    = flag.Bool("help", false, "print usage information and exit")

		xlen     = flag.Int("xlen", cfg.Hart.XLEN, "register width: 32 or 64")
		isaStr   = flag.String("isa", cfg.Hart.ISA, "ISA extension letters, e.g. rv64imafdc")
		numHarts = flag.Int("harts", cfg.Hart.NumHarts, "number of harts sharing the bus")
		ramSize  = flag.Uint64("ram", defaultRAMSize, "RAM region size in bytes")
		sv39     = flag.Bool("sv39", cfg.Hart.MMUMode == "sv39", "report the MMU as Sv39-capable (satp mode is still set by guest software)")
		sv48     = flag.Bool("sv48", cfg.Hart.MMUMode == "sv48", "report the MMU as Sv48-capable (satp mode is still set by guest software)")
		quantum  = flag.Uint64("quantum", cfg.Execution.QuantumSize, "instructions each hart runs before yielding to the next")
		maxInstrs = flag.Uint64("max-instructions", cfg.Execution.MaxInstructions, "stop after this many retired instructions (0 = unbounded)")

		debugMode = flag.Bool("debug", false, "start in the command-line debugger")
		tuiMode   = flag.Bool("tui", false, "start in the text-mode debugger UI")

		monitorServer = flag.Bool("monitor-server", cfg.API.Enabled, "serve the JSON/WebSocket introspection API instead of running directly")
		monitorAddr   = flag.String("monitor-addr", cfg.API.Addr, "listen address for -monitor-server")

		enableTrace = flag.Bool("trace", cfg.Execution.EnableTrace, "write an instruction trace")
		traceFile   = flag.String("trace-file", cfg.Trace.OutputFile, "instruction trace output path (default: config log dir)")

		verbose = flag.Bool("verbose", false, "print progress information to stderr")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("rvvp %s (commit %s, built %s)\n", Version, Commit, Date)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	if *xlen != 32 && *xlen != 64 {
		fmt.Fprintf(os.Stderr, "Error: -xlen must be 32 or 64, got %d\n", *xlen)
		os.Exit(1)
	}
	if *numHarts < 1 {
		fmt.Fprintf(os.Stderr, "Error: -harts must be at least 1, got %d\n", *numHarts)
		os.Exit(1)
	}

	elfPath := flag.Arg(0)
	f, err := os.Open(elfPath) // #nosec G304 -- user-specified guest binary path
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot open %s: %v\n", elfPath, err)
		os.Exit(1)
	}
	defer f.Close()

	bus := membus.NewBus()
	bus.AddRegion("ram", 0, *ramSize, membus.PermRead|membus.PermWrite|membus.PermExecute, true)

	img, err := elfload.Load(f, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", elfPath, err)
		os.Exit(1)
	}

	if *verbose {
		mmuMode := "bare"
		switch {
		case *sv48:
			mmuMode = "sv48"
		case *sv39:
			mmuMode = "sv39"
		}
		fmt.Fprintf(os.Stderr, "Loaded %s: entry=0x%016X range=[0x%X,0x%X) xlen=%d isa=%s mmu=%s harts=%d\n",
			elfPath, img.Entry, img.LowAddr, img.HighAddr, *xlen, *isaStr, mmuMode, *numHarts)
	}

	misaExt := hart.ParseISA(*isaStr)
	compressed := containsRune(*isaStr, 'c')

	cores := make([]*iss.Core, *numHarts)
	harts := make([]*hart.Hart, *numHarts)
	atomicUnit := membus.NewAtomicUnit(bus)
	sysEmu := syscallemu.NewEmulator()

	for i := 0; i < *numHarts; i++ {
		h := hart.NewHart(*xlen, uint64(i), misaExt, img.Entry)
		m := mmu.New(bus)
		core := iss.NewCore(h, bus, m, atomicUnit, compressed)
		core.Syscall = sysEmu

		if *enableTrace {
			tracePath := *traceFile
			if tracePath == "" {
				tracePath = filepath.Join(config.GetLogPath(), fmt.Sprintf("trace-hart%d.log", i))
			}
			traceOut, err := os.Create(tracePath) // #nosec G304 -- user-specified trace output path
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
				os.Exit(1)
			}
			defer traceOut.Close()
			core.InstructionTrace = iss.NewInstructionTrace(traceOut)
		}

		harts[i] = h
		cores[i] = core
	}

	qk := clock.NewQuantumKeeper(*quantum, harts...)
	mtime := clock.NewMTime(*numHarts)
	for _, h := range harts {
		h.CSR.TimeSource = mtime.UpdateAndGetMtime
	}

	switch {
	case *monitorServer:
		runMonitorServer(cores, *monitorAddr)
	case *debugMode:
		runDebugger(cores[0], debugger.RunCLI)
	case *tuiMode:
		runDebugger(cores[0], debugger.RunTUI)
	default:
		runFree(cores, qk, mtime, *maxInstrs, *verbose)
	}

	if sysEmu.Exited {
		os.Exit(sysEmu.ExitCode)
	}
}

// runFree round-robins every core a quantum at a time until all harts
// halt, the instruction ceiling is hit, or a host-side simulator error
// occurs, mirroring the ARM emulator's plain "run to completion" main loop
// generalized from one VM to several harts sharing a clock.
func runFree(cores []*iss.Core, qk *clock.QuantumKeeper, mtime *clock.MTime, maxInstrs uint64, verbose bool) {
	var retired uint64
	harts := make([]*hart.Hart, len(cores))
	for i, c := range cores {
		harts[i] = c.Hart
	}

	for {
		allHalted := true
		for i, core := range cores {
			if core.State == iss.StateHalted || core.State == iss.StateError {
				continue
			}
			allHalted = false

			for {
				if err := core.Step(); err != nil {
					fmt.Fprintf(os.Stderr, "hart %d: %v\n", i, err)
					break
				}
				retired++
				mtime.Tick(harts)

				if core.State != iss.StateRunning {
					break
				}
				if maxInstrs != 0 && retired >= maxInstrs {
					if verbose {
						fmt.Fprintf(os.Stderr, "stopped after %d instructions (max-instructions reached)\n", retired)
					}
					return
				}
				if qk.Advance(i) {
					break
				}
			}
		}
		if allHalted {
			break
		}
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "all harts halted after %d instructions\n", retired)
	}
}

// runDebugger wires one core into a Debugger and hands control to the
// given front end (the CLI loop or the TUI).
func runDebugger(core *iss.Core, front func(*debugger.Debugger) error) {
	dbg := debugger.NewDebugger(core)
	if err := front(dbg); err != nil {
		fmt.Fprintf(os.Stderr, "debugger error: %v\n", err)
		os.Exit(1)
	}
}

// runMonitorServer starts the monitor's HTTP/WebSocket introspection
// server and blocks until SIGINT/SIGTERM, shutting down gracefully like
// the ARM emulator's -api-server mode in main.go.
func runMonitorServer(cores []*iss.Core, addr string) {
	srv := monitor.NewServer(cores, Version)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownOnce sync.Once
	performShutdown := func() {
		shutdownOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "monitor server shutdown error: %v\n", err)
			}
			fmt.Println("monitor server stopped")
		})
	}

	go func() {
		fmt.Printf("monitor server listening on %s\n", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "monitor server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-sigChan
	performShutdown()
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func printHelp() {
	fmt.Println("rvvp - RISC-V Virtual Platform")
	fmt.Println()
	fmt.Println("Usage: rvvp [flags] <elf-file>")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
