package machine

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"math"

	"github.com/roach88/rvcheck/internal/rv"
)

// LoadError reports an image or argument vector the machine cannot start
// from.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load: %s: %v", e.Reason, e.Err)
	}
	return "load: " + e.Reason
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadProgram maps every PT_LOAD segment of an ELF64 RISC-V image, builds
// the initial stack from args, sets pc to the entry point, and marks the
// machine running. Executable segments become executable and frozen; all
// other segments are frozen but writable.
func (m *Machine) LoadProgram(image []byte, args [][]byte) error {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return &LoadError{Reason: "parse elf", Err: err}
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return &LoadError{Reason: fmt.Sprintf("not a 64-bit RISC-V image (%s, %s)", f.Class, f.Machine)}
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if err := m.loadSegment(p); err != nil {
			return err
		}
	}

	m.SetPC(f.Entry)
	if err := m.initStack(args); err != nil {
		return err
	}
	m.running = true
	return nil
}

func (m *Machine) loadSegment(p *elf.Prog) error {
	if p.Filesz > p.Memsz {
		return &LoadError{Reason: fmt.Sprintf("segment at 0x%x has filesz > memsz", p.Vaddr)}
	}
	end := p.Vaddr + p.Memsz
	if end < p.Vaddr || end-1 > m.mem.limit || end > math.MaxUint64-rv.PageSize {
		return &LoadError{Reason: fmt.Sprintf("segment at 0x%x exceeds memory", p.Vaddr)}
	}
	begin := p.Vaddr &^ (rv.PageSize - 1)
	end = (end + rv.PageSize - 1) &^ (rv.PageSize - 1)

	data := make([]byte, p.Filesz)
	if _, err := io.ReadFull(p.Open(), data); err != nil {
		return &LoadError{Reason: fmt.Sprintf("read segment at 0x%x", p.Vaddr), Err: err}
	}

	flags := FlagFreezed
	if p.Flags&elf.PF_X != 0 {
		flags |= FlagExecutable
	}
	if err := m.mem.InitPages(begin, end-begin, flags, data, p.Vaddr-begin); err != nil {
		return &LoadError{Reason: fmt.Sprintf("map segment at 0x%x", p.Vaddr), Err: err}
	}
	return nil
}

// initStack lays out argc, argv pointers and a NULL terminator at sp, with
// the argument strings above them. sp ends 16-byte aligned.
func (m *Machine) initStack(args [][]byte) error {
	top, size := m.cfg.StackTop, m.cfg.StackSize
	base := top - size
	if err := m.mem.InitPages(base, size, 0, nil, 0); err != nil {
		return &LoadError{Reason: "map stack", Err: err}
	}

	overflow := &LoadError{Reason: "arguments exceed the stack"}
	sp := top
	ptrs := make([]uint64, 0, len(args))
	for _, a := range args {
		need := uint64(len(a)) + 1
		if sp-base < need {
			return overflow
		}
		sp -= need
		if err := m.mem.StoreBytes(sp, a); err != nil {
			return &LoadError{Reason: "write argument", Err: err}
		}
		if err := m.mem.StoreByte(sp+uint64(len(a)), 1, 0); err != nil {
			return &LoadError{Reason: "write argument", Err: err}
		}
		ptrs = append(ptrs, sp)
	}

	values := make([]uint64, 0, len(ptrs)+2)
	values = append(values, uint64(len(args)))
	values = append(values, ptrs...)
	values = append(values, 0)

	sp &^= 15
	pad := uint64(0)
	if len(values)%2 == 1 {
		pad = 8
	}
	if sp-base < pad+uint64(8*len(values)) {
		return overflow
	}
	sp -= pad
	for i := len(values) - 1; i >= 0; i-- {
		sp -= 8
		if err := m.mem.Store(sp, 8, values[i]); err != nil {
			return &LoadError{Reason: "write argv", Err: err}
		}
	}
	m.SetRegister(rv.RegSP, sp)
	return nil
}
