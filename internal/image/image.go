// Package image writes and reads the minimal ELF64 RISC-V executables the
// scenario harness and tests run.
package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/roach88/rvcheck/internal/rv"
)

const (
	headerSize   = 64
	progSize     = 56
	segmentAlign = rv.PageSize
)

// Segment is one loadable region.
type Segment struct {
	Addr    uint64
	Data    []byte
	MemSize uint64 // zero means len(Data)
	Flags   elf.ProgFlag
}

// Executable reports whether the segment is mapped executable.
func (s Segment) Executable() bool {
	return s.Flags&elf.PF_X != 0
}

// Build lays out an ET_EXEC image with one PT_LOAD header per segment and
// no section headers. File offsets are congruent to addresses modulo the
// page size.
func Build(entry uint64, segs ...Segment) []byte {
	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progSize,
		Phnum:     uint16(len(segs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	mustWrite(&buf, hdr)

	offsets := make([]uint64, len(segs))
	next := uint64(headerSize + progSize*len(segs))
	for i, s := range segs {
		off := (next+segmentAlign-1)&^(segmentAlign-1) + s.Addr%segmentAlign
		offsets[i] = off
		next = off + uint64(len(s.Data))
	}

	for i, s := range segs {
		mem := s.MemSize
		if mem == 0 {
			mem = uint64(len(s.Data))
		}
		mustWrite(&buf, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    offsets[i],
			Vaddr:  s.Addr,
			Paddr:  s.Addr,
			Filesz: uint64(len(s.Data)),
			Memsz:  mem,
			Align:  segmentAlign,
		})
	}

	for i, s := range segs {
		buf.Write(make([]byte, offsets[i]-uint64(buf.Len())))
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// Text builds an image with a single read-execute segment at base whose
// entry point is base.
func Text(base uint64, code []byte) []byte {
	return Build(base, Segment{Addr: base, Data: code, Flags: elf.PF_R | elf.PF_X})
}

// Read returns the entry point and loadable segments of an image.
func Read(img []byte) (uint64, []Segment, error) {
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return 0, nil, fmt.Errorf("parse elf: %w", err)
	}
	var segs []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return 0, nil, fmt.Errorf("read segment at 0x%x: %w", p.Vaddr, err)
		}
		segs = append(segs, Segment{Addr: p.Vaddr, Data: data, MemSize: p.Memsz, Flags: p.Flags})
	}
	return f.Entry, segs, nil
}

func mustWrite(w io.Writer, v any) {
	// Writes into a bytes.Buffer of fixed-size structs cannot fail.
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		panic(err)
	}
}
