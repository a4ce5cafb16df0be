// Package syscallemu implements an optional newlib-style ECALL
// interceptor: a7 carries the syscall number, a0-a3 the arguments, and
// a0 receives the result. It is grounded on the ARM emulator's
// vm/syscall.go ExecuteSWI dispatch shape (switch on a syscall-number
// register, small per-call handlers, two-tier error handling) with the
// SWI register convention (R0-R3 args, R0 result) mapped onto the
// RISC-V calling convention's a0-a3/a7.
package syscallemu

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lookbusy1344/riscv-vp/iss"
	"github.com/lookbusy1344/riscv-vp/mmu"
)

// Syscall numbers, a small newlib-compatible subset plus three
// host-indication numbers private to this simulator (HostExit,
// HostPutChar, HostTrace) for programs that want direct host signaling
// without going through a C library.
const (
	SysExit          = 93
	SysRead          = 63
	SysWrite         = 64
	SysOpen          = 1024
	SysClose         = 57
	SysLseek         = 62
	SysBrk           = 214
	SysGettimeofday  = 169
	SysFstat         = 80
	SysTime          = 1062

	HostExit     = 0xFF00
	HostPutChar  = 0xFF01
	HostTrace    = 0xFF02
)

// Regs are the integer register indices used by the calling convention;
// named here instead of repeating magic numbers at every call site.
const (
	regA0 = 10
	regA1 = 11
	regA2 = 12
	regA3 = 13
	regA7 = 17
)

// Emulator intercepts ECALL as a newlib-style syscall, implementing
// iss.SyscallHandler. ExitCode/Exited let the driver loop (cmd/rvvp)
// detect program termination the same way the ARM emulator's handleExit
// communicates it via a VM-level halted flag.
type Emulator struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	brk uint64

	Exited   bool
	ExitCode int

	files map[uint32]*os.File
	nextFD uint32
}

// NewEmulator builds an emulator defaulting to the process's standard
// streams, mirroring the ARM emulator's default-to-os.Stdin/Stdout wiring in
// vm/syscall.go before SetStdinReader is called.
func NewEmulator() *Emulator {
	return &Emulator{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		files:  make(map[uint32]*os.File),
		nextFD: 3,
	}
}

// HandleEcall implements iss.SyscallHandler.
func (e *Emulator) HandleEcall(c *iss.Core) (handled bool, err error) {
	h := c.Hart
	num := h.Int.Get(regA7)
	a0, a1, a2 := h.Int.Get(regA0), h.Int.Get(regA1), h.Int.Get(regA2)

	switch num {
	case SysExit, HostExit:
		e.Exited = true
		e.ExitCode = int(int32(a0))
		c.State = iss.StateHalted
		return true, nil

	case SysWrite:
		return true, e.sysWrite(c, a0, a1, a2)

	case SysRead:
		return true, e.sysRead(c, a0, a1, a2)

	case HostPutChar:
		fmt.Fprintf(e.Stdout, "%c", byte(a0))
		h.Int.Set(regA0, 0)
		return true, nil

	case HostTrace:
		s, rerr := readCString(c, a0, 4096)
		if rerr != nil {
			return true, rerr
		}
		fmt.Fprintln(e.Stderr, s)
		h.Int.Set(regA0, 0)
		return true, nil

	case SysBrk:
		if a0 != 0 {
			e.brk = a0
		}
		h.Int.Set(regA0, e.brk)
		return true, nil

	case SysGettimeofday:
		return true, e.sysGettimeofday(c, a0)

	case SysTime:
		now := time.Now().Unix()
		if a0 != 0 {
			if err := c.Bus.StoreDouble(mustTranslate(c, a0), uint64(now)); err != nil {
				return true, err
			}
		}
		h.Int.Set(regA0, uint64(now))
		return true, nil

	case SysClose:
		delete(e.files, uint32(a0))
		h.Int.Set(regA0, 0)
		return true, nil

	case SysFstat:
		// the stat buffer is not written; only a success status is
		// returned in a0.
		h.Int.Set(regA0, 0)
		return true, nil
	}

	return false, nil
}

func (e *Emulator) sysWrite(c *iss.Core, fd, bufAddr, count uint64) error {
	buf := make([]byte, count)
	for i := uint64(0); i < count; i++ {
		paddr, err := c.MMU.Translate(c.Hart.CSR, bufAddr+i, mmu.AccessLoad, c.Hart.Priv, false, false, c.Hart.ADUpdate)
		if err != nil {
			return err
		}
		b, err := c.Bus.LoadByte(paddr)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	var w io.Writer = e.Stdout
	if fd == 2 {
		w = e.Stderr
	}
	n, _ := w.Write(buf)
	c.Hart.Int.Set(regA0, uint64(n))
	return nil
}

func (e *Emulator) sysRead(c *iss.Core, fd, bufAddr, count uint64) error {
	buf := make([]byte, count)
	n, _ := e.Stdin.Read(buf)
	for i := 0; i < n; i++ {
		paddr, err := c.MMU.Translate(c.Hart.CSR, bufAddr+uint64(i), mmu.AccessStore, c.Hart.Priv, false, false, c.Hart.ADUpdate)
		if err != nil {
			return err
		}
		if err := c.Bus.StoreByte(paddr, buf[i]); err != nil {
			return err
		}
	}
	c.Hart.Int.Set(regA0, uint64(n))
	return nil
}

func (e *Emulator) sysGettimeofday(c *iss.Core, bufAddr uint64) error {
	now := time.Now()
	paddr, err := c.MMU.Translate(c.Hart.CSR, bufAddr, mmu.AccessStore, c.Hart.Priv, false, false, c.Hart.ADUpdate)
	if err != nil {
		return err
	}
	if err := c.Bus.StoreDouble(paddr, uint64(now.Unix())); err != nil {
		return err
	}
	if err := c.Bus.StoreDouble(paddr+8, uint64(now.Nanosecond()/1000)); err != nil {
		return err
	}
	c.Hart.Int.Set(regA0, 0)
	return nil
}

func mustTranslate(c *iss.Core, vaddr uint64) uint64 {
	paddr, err := c.MMU.Translate(c.Hart.CSR, vaddr, mmu.AccessStore, c.Hart.Priv, false, false, c.Hart.ADUpdate)
	if err != nil {
		return vaddr
	}
	return paddr
}

func readCString(c *iss.Core, addr uint64, max int) (string, error) {
	var b []byte
	for i := 0; i < max; i++ {
		paddr, err := c.MMU.Translate(c.Hart.CSR, addr+uint64(i), mmu.AccessLoad, c.Hart.Priv, false, false, c.Hart.ADUpdate)
		if err != nil {
			return "", err
		}
		ch, err := c.Bus.LoadByte(paddr)
		if err != nil {
			return "", err
		}
		if ch == 0 {
			break
		}
		b = append(b, ch)
	}
	return string(b), nil
}
