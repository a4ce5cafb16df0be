// Package mmu implements the Sv39/Sv48 page-table walker and its TLB, on
// top of a membus.Bus for page-table-entry fetches.
package mmu

import (
	"fmt"

	"github.com/lookbusy1344/riscv-vp/hart"
	"github.com/lookbusy1344/riscv-vp/membus"
)

// AccessType distinguishes the three page-fault causes.
type AccessType int

const (
	AccessFetch AccessType = iota
	AccessLoad
	AccessStore
)

// vmInfo describes one virtual-memory scheme's geometry, grounded on
// original_source/vp/src/core/rv64/mmu.h's vm_info table.
type vmInfo struct {
	levels  int
	idxbits int
	ptesize int
}

var (
	sv39 = vmInfo{levels: 3, idxbits: 9, ptesize: 8}
	sv48 = vmInfo{levels: 4, idxbits: 9, ptesize: 8}
)

const (
	ModeBare = 0
	ModeSv39 = 8
	ModeSv48 = 9
)

// pte bit positions.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteG = 1 << 5
	pteA = 1 << 6
	pteD = 1 << 7
)

// PageFault is returned when a walk fails; the ISS maps AccessType to the
// corresponding EXC_{INSTR,LOAD,STORE}_PAGE_FAULT cause.
type PageFault struct {
	VAddr  uint64
	Access AccessType
}

func (e *PageFault) Error() string {
	return fmt.Sprintf("page fault at 0x%x (access=%d)", e.VAddr, e.Access)
}

// tlbEntry is one direct-mapped TLB slot.
type tlbEntry struct {
	valid  bool
	vpn    uint64
	ppn    uint64
	perm   uint64
	global bool
}

const tlbEntries = 512

// MMU walks Sv39/Sv48 page tables for one hart and caches translations in
// a 512-entry direct-mapped TLB, per original_source/vp/src/core/rv64/mmu.h.
type MMU struct {
	Bus *membus.Bus
	tlb [tlbEntries]tlbEntry
}

func New(bus *membus.Bus) *MMU {
	return &MMU{Bus: bus}
}

// Flush invalidates the whole TLB (SFENCE.VMA with rs1=rs2=x0, or a satp
// write) or a single VPN (SFENCE.VMA with rs1 naming a vaddr).
func (m *MMU) Flush() {
	for i := range m.tlb {
		m.tlb[i] = tlbEntry{}
	}
}

func (m *MMU) FlushVAddr(vaddr uint64) {
	idx := (vaddr >> 12) % tlbEntries
	m.tlb[idx] = tlbEntry{}
}

func tlbIndex(vpn uint64) uint64 { return vpn % tlbEntries }

// Translate walks satp's scheme to resolve vaddr to a physical address for
// the given access type, honoring sum/mxr/mprv semantics the caller
// (the ISS) has already resolved into the effective privilege and
// effective-sum/mxr flags passed in.
func (m *MMU) Translate(csr *hart.CSRFile, vaddr uint64, access AccessType, priv hart.Priv, sum, mxr, adUpdate bool) (uint64, error) {
	mode, _, ppnRoot := csr.Satp()
	if mode == ModeBare || priv == hart.PrivM {
		return vaddr, nil
	}

	vpn := vaddr >> 12
	if idx := tlbIndex(vpn); m.tlb[idx].valid && m.tlb[idx].vpn == vpn {
		e := m.tlb[idx]
		needsDUpdate := access == AccessStore && e.perm&pteD == 0
		if !needsDUpdate {
			if !m.permOK(e.perm, access, priv, sum, mxr) {
				return 0, &PageFault{VAddr: vaddr, Access: access}
			}
			return (e.ppn << 12) | (vaddr & 0xFFF), nil
		}
		// fall through to a full walk so the D bit gets set (or faults,
		// under the fault-on-missing-AD policy) instead of trusting a
		// stale cached entry for a dirtying store.
	}

	var info vmInfo
	switch mode {
	case ModeSv39:
		info = sv39
	case ModeSv48:
		info = sv48
	default:
		return 0, &PageFault{VAddr: vaddr, Access: access}
	}

	if !canonicalVAddr(vaddr, info) {
		return 0, &PageFault{VAddr: vaddr, Access: access}
	}

	ppn := ppnRoot
	var pte uint64
	level := info.levels - 1
	for level >= 0 {
		vpnI := (vpn >> uint(level*info.idxbits)) & ((1 << info.idxbits) - 1)
		pteAddr := (ppn << 12) + vpnI*uint64(info.ptesize)
		raw, err := m.Bus.LoadDouble(pteAddr)
		if err != nil {
			return 0, &PageFault{VAddr: vaddr, Access: access}
		}
		pte = raw
		if pte&pteV == 0 || (pte&pteR == 0 && pte&pteW != 0) {
			return 0, &PageFault{VAddr: vaddr, Access: access}
		}
		if pte&(pteR|pteX) != 0 {
			break // leaf
		}
		ppn = (pte >> 10) & ((1 << 44) - 1)
		level--
		if level < 0 {
			return 0, &PageFault{VAddr: vaddr, Access: access}
		}
	}

	if !m.permOK(pte, access, priv, sum, mxr) {
		return 0, &PageFault{VAddr: vaddr, Access: access}
	}

	ppnLeaf := (pte >> 10) & ((1 << 44) - 1)

	// Superpage misalignment check: for level > 0, the low level*idxbits
	// bits of ppn must be zero.
	if level > 0 {
		lowMask := uint64(1)<<uint(level*info.idxbits) - 1
		if ppnLeaf&lowMask != 0 {
			return 0, &PageFault{VAddr: vaddr, Access: access}
		}
		// fill the low bits from the virtual address for a superpage.
		ppnLeaf = ppnLeaf&^lowMask | (vpn & lowMask)
	}

	needsA := pte&pteA == 0
	needsD := access == AccessStore && pte&pteD == 0
	if needsA || needsD {
		if !adUpdate {
			return 0, &PageFault{VAddr: vaddr, Access: access}
		}
		pte = m.setAD(m.pteAddrFor(ppnRoot, vpn, info, level), pte, access)
	}

	m.tlb[tlbIndex(vpn)] = tlbEntry{valid: true, vpn: vpn, ppn: ppnLeaf, perm: pte, global: pte&pteG != 0}

	return (ppnLeaf << 12) | (vaddr & 0xFFF), nil
}

// pteAddrFor recomputes the address of the leaf PTE for the A/D update
// write-back by re-reading the non-leaf PTEs on the path from the root,
// which keeps Translate's loop free of an extra accumulator.
func (m *MMU) pteAddrFor(ppnRoot uint64, vpn uint64, info vmInfo, leafLevel int) uint64 {
	ppn := ppnRoot
	level := info.levels - 1
	var addr uint64
	for level >= leafLevel {
		vpnI := (vpn >> uint(level*info.idxbits)) & ((1 << info.idxbits) - 1)
		addr = (ppn << 12) + vpnI*8
		if level == leafLevel {
			break
		}
		next, _ := m.Bus.LoadDouble(addr)
		ppn = (next >> 10) & ((1 << 44) - 1)
		level--
	}
	return addr
}

func (m *MMU) setAD(pteAddr uint64, pte uint64, access AccessType) uint64 {
	pte |= pteA
	if access == AccessStore {
		pte |= pteD
	}
	_ = m.Bus.StoreDouble(pteAddr, pte)
	return pte
}

// canonicalVAddr enforces step 1 of the walk algorithm (spec.md §4.5):
// every bit above the scheme's addressable range must equal the sign bit
// of the topmost addressable bit, the same "canonical address" rule
// Sv39/Sv48 hardware applies before ever consulting satp.ppn.
func canonicalVAddr(vaddr uint64, info vmInfo) bool {
	vaBits := uint(12 + info.levels*info.idxbits)
	if vaBits >= 64 {
		return true
	}
	signBit := (vaddr >> (vaBits - 1)) & 1
	var want uint64
	if signBit != 0 {
		want = ^uint64(0)
	}
	mask := ^uint64(0) << (vaBits - 1)
	return vaddr&mask == want&mask
}

func (m *MMU) permOK(pte uint64, access AccessType, priv hart.Priv, sum, mxr bool) bool {
	switch access {
	case AccessFetch:
		if pte&pteX == 0 {
			return false
		}
	case AccessStore:
		if pte&pteW == 0 {
			return false
		}
	case AccessLoad:
		if pte&pteR == 0 {
			if !(mxr && pte&pteX != 0) {
				return false
			}
		}
	}
	if pte&pteU != 0 {
		// SUM only relaxes S-mode access to U-pages for load/store; an
		// instruction fetch of a user page from S-mode always faults.
		if priv == hart.PrivS && (!sum || access == AccessFetch) {
			return false
		}
	} else if priv == hart.PrivU {
		return false
	}
	return true
}
