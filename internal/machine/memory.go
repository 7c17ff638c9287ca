package machine

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/rvcheck/internal/rv"
)

// Flag is a page attribute bit.
type Flag uint8

const (
	// FlagExecutable marks a page that may be fetched from and never
	// written to. Pages without it are writable.
	FlagExecutable Flag = 1 << iota
	// FlagFreezed locks a page's flags.
	FlagFreezed
	// FlagDirty is set by the first store into a page.
	FlagDirty
)

// Memory errors. A MemoryError wraps one of these.
var (
	ErrOutOfBound         = errors.New("out of bound")
	ErrWriteExecutable    = errors.New("write to executable page")
	ErrFetchNonExecutable = errors.New("fetch from non-executable page")
	ErrMisaligned         = errors.New("misaligned")
	ErrFrozen             = errors.New("page flags are frozen")
)

// MemoryError reports a memory access the model refuses.
type MemoryError struct {
	Op   string
	Addr uint64
	Size uint64
	Err  error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory %s at 0x%x (size %d): %v", e.Op, e.Addr, e.Size, e.Err)
}

func (e *MemoryError) Unwrap() error {
	return e.Err
}

// PageManager is the page-level capability set. Only concrete memory
// implements it; instruction semantics never see it.
type PageManager interface {
	InitPages(addr, size uint64, flags Flag, source []byte, offsetFromAddr uint64) error
	FetchFlag(page uint64) (Flag, error)
	SetFlag(page uint64, flag Flag) error
	ClearFlag(page uint64, flag Flag) error
	StoreBytes(addr uint64, data []byte) error
	StoreByte(addr, size uint64, value byte) error
}

type page = [rv.PageSize]byte

// Memory is a sparse, write-xor-execute byte store. Pages that were never
// touched read as zero and are writable.
type Memory struct {
	limit uint64
	pages map[uint64]*page
	flags map[uint64]Flag
}

var _ PageManager = (*Memory)(nil)

// NewMemory returns empty memory whose highest valid address is limit.
func NewMemory(limit uint64) *Memory {
	return &Memory{
		limit: limit,
		pages: make(map[uint64]*page),
		flags: make(map[uint64]Flag),
	}
}

// Limit returns the highest valid address.
func (m *Memory) Limit() uint64 { return m.limit }

func (m *Memory) outOfBound(addr, size uint64) bool {
	return size == 0 || addr > m.limit || size-1 > m.limit-addr
}

func (m *Memory) check(op string, addr, size uint64) error {
	if m.outOfBound(addr, size) {
		return &MemoryError{Op: op, Addr: addr, Size: size, Err: ErrOutOfBound}
	}
	return nil
}

// pageRange iterates the page numbers covering [addr, addr+size).
func pageRange(addr, size uint64) (first, last uint64) {
	return addr / rv.PageSize, (addr + size - 1) / rv.PageSize
}

func (m *Memory) byteAt(addr uint64) byte {
	p := m.pages[addr/rv.PageSize]
	if p == nil {
		return 0
	}
	return p[addr%rv.PageSize]
}

func (m *Memory) setByte(addr uint64, b byte) {
	n := addr / rv.PageSize
	p := m.pages[n]
	if p == nil {
		if b == 0 {
			return
		}
		p = new(page)
		m.pages[n] = p
	}
	p[addr%rv.PageSize] = b
}

// Load reads size bytes little-endian and zero-extends them.
func (m *Memory) Load(addr uint64, size int) (uint64, error) {
	if err := m.check("load", addr, uint64(size)); err != nil {
		return 0, err
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.byteAt(addr+uint64(i)))
	}
	return v, nil
}

// Store writes the low size bytes of v little-endian.
func (m *Memory) Store(addr uint64, size int, v uint64) error {
	if err := m.writable("store", addr, uint64(size)); err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		m.setByte(addr+uint64(i), byte(v>>(8*i)))
	}
	m.markDirty(addr, uint64(size))
	return nil
}

func (m *Memory) writable(op string, addr, size uint64) error {
	if err := m.check(op, addr, size); err != nil {
		return err
	}
	first, last := pageRange(addr, size)
	for n := first; ; n++ {
		if m.flags[n]&FlagExecutable != 0 {
			return &MemoryError{Op: op, Addr: addr, Size: size, Err: ErrWriteExecutable}
		}
		if n == last {
			return nil
		}
	}
}

func (m *Memory) markDirty(addr, size uint64) {
	first, last := pageRange(addr, size)
	for n := first; ; n++ {
		m.flags[n] |= FlagDirty
		if n == last {
			return
		}
	}
}

// FetchHalf reads an instruction halfword. The page must be executable.
func (m *Memory) FetchHalf(addr uint64) (uint16, error) {
	if err := m.check("fetch", addr, 2); err != nil {
		return 0, err
	}
	if addr&1 != 0 {
		return 0, &MemoryError{Op: "fetch", Addr: addr, Size: 2, Err: ErrMisaligned}
	}
	if m.flags[addr/rv.PageSize]&FlagExecutable == 0 {
		return 0, &MemoryError{Op: "fetch", Addr: addr, Size: 2, Err: ErrFetchNonExecutable}
	}
	return uint16(m.byteAt(addr)) | uint16(m.byteAt(addr+1))<<8, nil
}

// InitPages sets flags on a page-aligned range, zero-fills it, and copies
// source to addr+offsetFromAddr. Frozen pages cannot be initialised again.
func (m *Memory) InitPages(addr, size uint64, flags Flag, source []byte, offsetFromAddr uint64) error {
	if addr%rv.PageSize != 0 || size%rv.PageSize != 0 || size == 0 {
		return &MemoryError{Op: "init", Addr: addr, Size: size, Err: ErrMisaligned}
	}
	if err := m.check("init", addr, size); err != nil {
		return err
	}
	if uint64(len(source)) > size || offsetFromAddr > size-uint64(len(source)) {
		return &MemoryError{Op: "init", Addr: addr, Size: size, Err: ErrOutOfBound}
	}
	first, last := pageRange(addr, size)
	for n := first; ; n++ {
		if m.flags[n]&FlagFreezed != 0 {
			return &MemoryError{Op: "init", Addr: n * rv.PageSize, Size: rv.PageSize, Err: ErrFrozen}
		}
		if n == last {
			break
		}
	}
	for n := first; ; n++ {
		delete(m.pages, n)
		m.flags[n] = flags
		if n == last {
			break
		}
	}
	for i, b := range source {
		m.setByte(addr+offsetFromAddr+uint64(i), b)
	}
	return nil
}

func (m *Memory) pageCheck(op string, page uint64) error {
	if page > m.limit/rv.PageSize {
		return &MemoryError{Op: op, Addr: page * rv.PageSize, Size: rv.PageSize, Err: ErrOutOfBound}
	}
	return nil
}

// FetchFlag returns the flags of a page number.
func (m *Memory) FetchFlag(page uint64) (Flag, error) {
	if err := m.pageCheck("flag", page); err != nil {
		return 0, err
	}
	return m.flags[page], nil
}

// SetFlag adds flag to a page. Frozen pages only accept FlagDirty.
func (m *Memory) SetFlag(page uint64, flag Flag) error {
	if err := m.flagChange("set flag", page, flag); err != nil {
		return err
	}
	m.flags[page] |= flag
	return nil
}

// ClearFlag removes flag from a page. Frozen pages only accept FlagDirty.
func (m *Memory) ClearFlag(page uint64, flag Flag) error {
	if err := m.flagChange("clear flag", page, flag); err != nil {
		return err
	}
	m.flags[page] &^= flag
	return nil
}

func (m *Memory) flagChange(op string, page uint64, flag Flag) error {
	if err := m.pageCheck(op, page); err != nil {
		return err
	}
	if m.flags[page]&FlagFreezed != 0 && flag&^FlagDirty != 0 {
		return &MemoryError{Op: op, Addr: page * rv.PageSize, Size: rv.PageSize, Err: ErrFrozen}
	}
	return nil
}

// StoreBytes writes data at addr under the same rules as Store.
func (m *Memory) StoreBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := m.writable("store bytes", addr, uint64(len(data))); err != nil {
		return err
	}
	for i, b := range data {
		m.setByte(addr+uint64(i), b)
	}
	m.markDirty(addr, uint64(len(data)))
	return nil
}

// StoreByte fills size bytes at addr with value.
func (m *Memory) StoreByte(addr, size uint64, value byte) error {
	if size == 0 {
		return nil
	}
	if err := m.writable("store byte", addr, size); err != nil {
		return err
	}
	for i := uint64(0); i < size; i++ {
		m.setByte(addr+i, value)
	}
	m.markDirty(addr, size)
	return nil
}

// DirtyPages returns the numbers of pages written since load, ascending.
func (m *Memory) DirtyPages() []uint64 {
	var out []uint64
	for n, f := range m.flags {
		if f&FlagDirty != 0 {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// Page returns a copy of a page's bytes; absent pages are zero.
func (m *Memory) Page(n uint64) []byte {
	out := make([]byte, rv.PageSize)
	if p := m.pages[n]; p != nil {
		copy(out, p[:])
	}
	return out
}

// Clone returns an independent deep copy.
func (m *Memory) Clone() *Memory {
	c := &Memory{
		limit: m.limit,
		pages: make(map[uint64]*page, len(m.pages)),
		flags: maps.Clone(m.flags),
	}
	for n, p := range m.pages {
		cp := *p
		c.pages[n] = &cp
	}
	return c
}
