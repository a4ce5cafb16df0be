// Package membus implements the memory bus: a set of mapped regions with
// permissions, typed little-endian load/store, a DMI fast path for regions
// that allow it. LR/SC and AMO semantics live in AtomicUnit, which takes
// no bus lock.
package membus

import "fmt"

// Permission is a bitmask of what a region allows.
type Permission byte

const (
	PermNone    Permission = 0
	PermRead    Permission = 1 << 0
	PermWrite   Permission = 1 << 1
	PermExecute Permission = 1 << 2
)

// Region is one mapped span of guest physical memory.
type Region struct {
	Name        string
	Start       uint64
	Size        uint64
	Data        []byte
	Permissions Permission
	// DMI, when true, allows the MMU/ISS to read this region's backing
	// slice directly for instruction fetch without going through Load.
	DMI bool
}

func (r *Region) contains(addr uint64) bool {
	return addr >= r.Start && addr < r.Start+r.Size
}

// Bus is the address-mapped memory bus shared by every hart.
type Bus struct {
	Regions []*Region

	lockHolder int64 // hart ID holding the bus lock, or -1 if free
	reservations map[uint64]int64 // reserved address -> holder hart ID
}

// NewBus creates an empty bus. Call AddRegion to map memory and MMIO.
func NewBus() *Bus {
	return &Bus{lockHolder: -1, reservations: make(map[uint64]int64)}
}

// AddRegion maps a new region of guest physical memory.
func (b *Bus) AddRegion(name string, start, size uint64, perm Permission, dmi bool) *Region {
	r := &Region{Name: name, Start: start, Size: size, Data: make([]byte, size), Permissions: perm, DMI: dmi}
	b.Regions = append(b.Regions, r)
	return r
}

// AccessFault is returned for any out-of-bounds, unmapped, or
// permission-denied access; the ISS maps it to the appropriate
// EXC_{LOAD,STORE,INSTR}_ACCESS_FAULT.
type AccessFault struct {
	Addr  uint64
	Write bool
	Fetch bool
}

func (e *AccessFault) Error() string {
	kind := "load"
	if e.Fetch {
		kind = "fetch"
	} else if e.Write {
		kind = "store"
	}
	return fmt.Sprintf("%s access fault at 0x%x", kind, e.Addr)
}

func (b *Bus) find(addr uint64, size uint64) (*Region, uint64, error) {
	for _, r := range b.Regions {
		if r.contains(addr) {
			if addr+size > r.Start+r.Size {
				return nil, 0, &AccessFault{Addr: addr}
			}
			return r, addr - r.Start, nil
		}
	}
	return nil, 0, &AccessFault{Addr: addr}
}

func (b *Bus) checkPerm(r *Region, write, fetch bool) error {
	if fetch {
		if r.Permissions&PermExecute == 0 {
			return &AccessFault{Fetch: true}
		}
		return nil
	}
	if write {
		if r.Permissions&PermWrite == 0 {
			return &AccessFault{Write: true}
		}
		return nil
	}
	if r.Permissions&PermRead == 0 {
		return &AccessFault{}
	}
	return nil
}

// LoadByte/Half/Word/Double read little-endian unsigned values.
func (b *Bus) LoadByte(addr uint64) (uint8, error) {
	r, off, err := b.find(addr, 1)
	if err != nil {
		return 0, err
	}
	if err := b.checkPerm(r, false, false); err != nil {
		return 0, annotate(err, addr)
	}
	return r.Data[off], nil
}

func (b *Bus) LoadHalf(addr uint64) (uint16, error) {
	r, off, err := b.find(addr, 2)
	if err != nil {
		return 0, err
	}
	if err := b.checkPerm(r, false, false); err != nil {
		return 0, annotate(err, addr)
	}
	return uint16(r.Data[off]) | uint16(r.Data[off+1])<<8, nil
}

func (b *Bus) LoadWord(addr uint64) (uint32, error) {
	r, off, err := b.find(addr, 4)
	if err != nil {
		return 0, err
	}
	if err := b.checkPerm(r, false, false); err != nil {
		return 0, annotate(err, addr)
	}
	return uint32(r.Data[off]) | uint32(r.Data[off+1])<<8 |
		uint32(r.Data[off+2])<<16 | uint32(r.Data[off+3])<<24, nil
}

func (b *Bus) LoadDouble(addr uint64) (uint64, error) {
	r, off, err := b.find(addr, 8)
	if err != nil {
		return 0, err
	}
	if err := b.checkPerm(r, false, false); err != nil {
		return 0, annotate(err, addr)
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(r.Data[off+uint64(i)]) << (8 * i)
	}
	return v, nil
}

func (b *Bus) StoreByte(addr uint64, v uint8) error {
	r, off, err := b.find(addr, 1)
	if err != nil {
		return err
	}
	if err := b.checkPerm(r, true, false); err != nil {
		return annotate(err, addr)
	}
	r.Data[off] = v
	return nil
}

func (b *Bus) StoreHalf(addr uint64, v uint16) error {
	r, off, err := b.find(addr, 2)
	if err != nil {
		return err
	}
	if err := b.checkPerm(r, true, false); err != nil {
		return annotate(err, addr)
	}
	r.Data[off] = byte(v)
	r.Data[off+1] = byte(v >> 8)
	return nil
}

func (b *Bus) StoreWord(addr uint64, v uint32) error {
	r, off, err := b.find(addr, 4)
	if err != nil {
		return err
	}
	if err := b.checkPerm(r, true, false); err != nil {
		return annotate(err, addr)
	}
	r.Data[off] = byte(v)
	r.Data[off+1] = byte(v >> 8)
	r.Data[off+2] = byte(v >> 16)
	r.Data[off+3] = byte(v >> 24)
	return nil
}

func (b *Bus) StoreDouble(addr uint64, v uint64) error {
	r, off, err := b.find(addr, 8)
	if err != nil {
		return err
	}
	if err := b.checkPerm(r, true, false); err != nil {
		return annotate(err, addr)
	}
	for i := 0; i < 8; i++ {
		r.Data[off+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

// FetchWord reads an instruction word for execution, checking execute
// permission instead of read permission.
func (b *Bus) FetchWord(addr uint64) (uint32, error) {
	r, off, err := b.find(addr, 4)
	if err != nil {
		err.(*AccessFault).Fetch = true
		return 0, err
	}
	if err := b.checkPerm(r, false, true); err != nil {
		return 0, annotate(err, addr)
	}
	return uint32(r.Data[off]) | uint32(r.Data[off+1])<<8 |
		uint32(r.Data[off+2])<<16 | uint32(r.Data[off+3])<<24, nil
}

// FetchHalf reads a compressed-instruction halfword for execution.
func (b *Bus) FetchHalf(addr uint64) (uint16, error) {
	r, off, err := b.find(addr, 2)
	if err != nil {
		err.(*AccessFault).Fetch = true
		return 0, err
	}
	if err := b.checkPerm(r, false, true); err != nil {
		return 0, annotate(err, addr)
	}
	return uint16(r.Data[off]) | uint16(r.Data[off+1])<<8, nil
}

// DMIPointer returns a direct slice into a DMI-eligible region covering
// [addr, addr+size), or nil if no such region exists. Nothing in the ISS
// calls it; instruction fetch goes through FetchHalf.
func (b *Bus) DMIPointer(addr, size uint64) []byte {
	for _, r := range b.Regions {
		if r.DMI && r.contains(addr) && addr+size <= r.Start+r.Size {
			off := addr - r.Start
			return r.Data[off : off+size]
		}
	}
	return nil
}

func annotate(err error, addr uint64) error {
	if af, ok := err.(*AccessFault); ok {
		af.Addr = addr
		return af
	}
	return err
}
