package cli

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rvcheck/internal/asm"
	"github.com/roach88/rvcheck/internal/image"
	"github.com/roach88/rvcheck/internal/profile"
	"github.com/roach88/rvcheck/internal/rv"
)

// DisasmLine is one decoded instruction or undecodable halfword.
type DisasmLine struct {
	Addr  uint64 `json:"addr"`
	Bytes string `json:"bytes"`
	Text  string `json:"text"`
	Valid bool   `json:"valid"`
}

// DisasmOutput is the JSON payload of the disasm command.
type DisasmOutput struct {
	Entry uint64       `json:"entry"`
	Lines []DisasmLine `json:"lines"`
}

// NewDisasmCommand creates the disasm command.
func NewDisasmCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Disassemble the executable segments of an image",
		Long: `Decode every executable segment of an RV64 ELF image with the
recording profile's decoder and print each instruction in canonical
assembly. Macro-op fusion is off, so each line is one architectural
instruction. Halfwords that do not decode are printed as .half.

Examples:
  rvcheck disasm ./prog
  rvcheck disasm ./prog --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runDisasm(cmd *cobra.Command, opts *RootOptions, path string) error {
	img, err := readImage(path)
	if err != nil {
		return err
	}
	entry, segs, err := image.Read(img)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read image", err)
	}
	cfg, err := loadProfile(profile.Recording)
	if err != nil {
		return err
	}
	cfg.ISA &^= rv.ISAMOP
	dec := rv.NewDecoder(cfg)

	out := DisasmOutput{Entry: entry, Lines: []DisasmLine{}}
	for _, seg := range segs {
		if seg.Executable() {
			out.Lines = append(out.Lines, disassemble(dec, seg)...)
		}
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: out})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "entry 0x%x\n", entry)
	for _, l := range out.Lines {
		fmt.Fprintf(w, "%8x:\t%-8s\t%s\n", l.Addr, l.Bytes, l.Text)
	}
	return nil
}

// disassemble decodes seg linearly. Decoding resumes two bytes on after a
// failure, since a compressed instruction may start there.
func disassemble(dec rv.InstructionDecoder, seg image.Segment) []DisasmLine {
	f := segmentFetcher{seg}
	var lines []DisasmLine
	end := seg.Addr + uint64(len(seg.Data))
	for pc := seg.Addr; pc+1 < end; {
		inst, err := dec.Decode(f, pc)
		if err != nil {
			half := binary.LittleEndian.Uint16(seg.Data[pc-seg.Addr:])
			lines = append(lines, DisasmLine{
				Addr:  pc,
				Bytes: fmt.Sprintf("%04x", half),
				Text:  fmt.Sprintf(".half 0x%04x", half),
			})
			pc += 2
			continue
		}
		var raw string
		if inst.Length == 2 {
			raw = fmt.Sprintf("%04x", binary.LittleEndian.Uint16(seg.Data[pc-seg.Addr:]))
		} else {
			raw = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(seg.Data[pc-seg.Addr:]))
		}
		lines = append(lines, DisasmLine{Addr: pc, Bytes: raw, Text: asm.Print(inst), Valid: true})
		pc += uint64(inst.Length)
	}
	return lines
}

// segmentFetcher serves instruction halfwords from one segment's file
// bytes.
type segmentFetcher struct {
	seg image.Segment
}

func (f segmentFetcher) FetchHalf(addr uint64) (uint16, error) {
	if addr < f.seg.Addr || addr-f.seg.Addr+2 > uint64(len(f.seg.Data)) {
		return 0, fmt.Errorf("fetch 0x%x: outside segment", addr)
	}
	off := addr - f.seg.Addr
	return binary.LittleEndian.Uint16(f.seg.Data[off:]), nil
}
