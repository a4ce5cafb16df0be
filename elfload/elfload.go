// Package elfload loads a RISC-V ELF binary onto a membus.Bus, the ELF
// analogue of the ARM emulator's loader.LoadProgramIntoVM: that function
// walks a parsed assembly program's instructions and directives,
// writing each one's encoded bytes into the right memory segment and
// finally setting the VM's entry point; this one walks an ELF file's
// PT_LOAD program headers, writing each segment's bytes into a mapped
// membus.Region and returning the file's entry point the same way.
package elfload

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/lookbusy1344/riscv-vp/membus"
)

// Image is the result of loading one ELF file: the entry PC and the
// lowest/highest guest-physical addresses touched, which the caller
// uses to size a brk-able heap region above the loaded image (mirroring
// the ARM emulator's maxAddr bookkeeping used to place its literal pool).
type Image struct {
	Entry    uint64
	LowAddr  uint64
	HighAddr uint64
	Is64     bool
}

// Load reads a RISC-V ELF executable from r and writes its loadable
// segments into bus, mapping one membus.Region per PT_LOAD header named
// after the header's index, permissions translated from the ELF
// flags (PF_R/PF_W/PF_X) the same way the ARM emulator's segments carry a
// fixed PermRead|PermWrite|PermExecute mask, just derived per-segment
// here instead of hardcoded per well-known ARM segment.
func Load(r io.ReaderAt, bus *membus.Bus) (Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return Image{}, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()

	switch f.Machine {
	case elf.EM_RISCV:
	default:
		return Image{}, fmt.Errorf("elfload: not a RISC-V ELF (machine=%s)", f.Machine)
	}

	img := Image{
		Entry:   f.Entry,
		LowAddr: ^uint64(0),
		Is64:    f.Class == elf.ELFCLASS64,
	}

	loaded := 0
	for i, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, ph.Memsz)
		sr := io.NewSectionReader(ph, 0, int64(ph.Filesz))
		if _, err := io.ReadFull(sr, data[:ph.Filesz]); err != nil && err != io.EOF {
			return Image{}, fmt.Errorf("elfload: reading segment %d: %w", i, err)
		}

		perm := membus.PermNone
		if ph.Flags&elf.PF_R != 0 {
			perm |= membus.PermRead
		}
		if ph.Flags&elf.PF_W != 0 {
			perm |= membus.PermWrite
		}
		if ph.Flags&elf.PF_X != 0 {
			perm |= membus.PermExecute
		}

		region := bus.AddRegion(fmt.Sprintf("load%d", i), ph.Vaddr, ph.Memsz, perm, true)
		copy(region.Data, data)

		if ph.Vaddr < img.LowAddr {
			img.LowAddr = ph.Vaddr
		}
		if end := ph.Vaddr + ph.Memsz; end > img.HighAddr {
			img.HighAddr = end
		}
		loaded++
	}
	if loaded == 0 {
		return Image{}, fmt.Errorf("elfload: no PT_LOAD segments found")
	}

	return img, nil
}
