package rv

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fullConfig = Config{
	ISA:         ISAIMC | ISAB | ISAA | ISAMOP,
	Version:     Version1,
	MemoryLimit: math.MaxUint64,
	StackTop:    4 << 20,
	StackSize:   1 << 20,
	MaxCycles:   math.MaxUint64,
}

// code is a flat executable region starting at address 0.
type code []byte

var errFetch = errors.New("fetch out of range")

func (c code) FetchHalf(addr uint64) (uint16, error) {
	if addr+2 > uint64(len(c)) {
		return 0, errFetch
	}
	return binary.LittleEndian.Uint16(c[addr:]), nil
}

func words(t *testing.T, insts ...Instruction) code {
	t.Helper()
	var out code
	for _, inst := range insts {
		w, err := Encode(inst)
		require.NoError(t, err)
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func halves(hs ...uint16) code {
	var out code
	for _, h := range hs {
		out = binary.LittleEndian.AppendUint16(out, h)
	}
	return out
}

func TestDecodeWord_Known(t *testing.T) {
	dec := NewDecoder(fullConfig)

	tests := []struct {
		word uint32
		want Instruction
	}{
		{0x02a00293, Instruction{Op: OpAddi, Rd: 5, Imm: 42, Length: 4}},
		{0x00000073, Instruction{Op: OpEcall, Length: 4}},
		{0x00100073, Instruction{Op: OpEbreak, Length: 4}},
		{0x0ff0000f, Instruction{Op: OpFence, Length: 4}},
		{0xfff50513, Instruction{Op: OpAddi, Rd: 10, Rs1: 10, Imm: -1, Length: 4}},
		{0x00b50533, Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11, Length: 4}},
		{0x00008067, Instruction{Op: OpJalr, Rs1: 1, Length: 4}},
		{0x000012b7, Instruction{Op: OpLui, Rd: 5, Imm: 4096, Length: 4}},
		{0x60051513, Instruction{Op: OpClz, Rd: 10, Rs1: 10, Length: 4}},
		{0x0805453b, Instruction{Op: OpZextH, Rd: 10, Rs1: 10, Length: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.want.Op.String(), func(t *testing.T) {
			got, ok := dec.DecodeWord(tt.word)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// sample fills every operand a format uses with a value that survives
// encoding.
func sample(e entry) Instruction {
	inst := Instruction{Op: e.op, Length: 4}
	switch e.format {
	case FormatR, FormatAMO:
		inst.Rd, inst.Rs1, inst.Rs2 = 5, 6, 7
	case FormatLR, FormatUnary:
		inst.Rd, inst.Rs1 = 8, 9
	case FormatI, FormatMem:
		inst.Rd, inst.Rs1, inst.Imm = 10, 11, -1234
	case FormatShift6:
		inst.Rd, inst.Rs1, inst.Imm = 12, 13, 45
	case FormatShift5:
		inst.Rd, inst.Rs1, inst.Imm = 14, 15, 29
	case FormatS:
		inst.Rs1, inst.Rs2, inst.Imm = 16, 17, 2047
	case FormatB:
		inst.Rs1, inst.Rs2, inst.Imm = 18, 19, -4096
	case FormatU:
		inst.Rd, inst.Imm = 20, -4096
	case FormatJ:
		inst.Rd, inst.Imm = 21, 1<<20-2
	}
	return inst
}

func TestEncodeDecode_EveryOpcode(t *testing.T) {
	dec := NewDecoder(fullConfig)
	for _, e := range table {
		t.Run(e.op.String(), func(t *testing.T) {
			want := sample(e)
			w, err := Encode(want)
			require.NoError(t, err)
			got, ok := dec.DecodeWord(w)
			require.True(t, ok, "word 0x%08x", w)
			assert.Equal(t, want, got)
			assert.Equal(t, e.format, e.op.Format())
		})
	}
}

func TestEncode_RangeErrors(t *testing.T) {
	cases := []Instruction{
		{Op: OpAddi, Imm: 2048},
		{Op: OpSlli, Imm: 64},
		{Op: OpSlliw, Imm: 32},
		{Op: OpBeq, Imm: 3},
		{Op: OpJal, Imm: 1 << 20},
		{Op: OpLui, Imm: 0x123},
		{Op: OpAdd, Rd: 32},
		{Op: OpWideMul},
	}
	for _, inst := range cases {
		_, err := Encode(inst)
		var ee *EncodeError
		assert.ErrorAs(t, err, &ee, "%v", inst)
	}
}

func TestDecode_ExtensionGating(t *testing.T) {
	base := fullConfig
	base.ISA = ISAIMC
	dec := NewDecoder(base)

	_, ok := dec.DecodeWord(0x60051513) // clz a0, a0
	assert.False(t, ok)

	mem := words(t, Instruction{Op: OpLrW, Rd: 10, Rs1: 11})
	_, err := dec.Decode(mem, 0)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, uint64(0), de.PC)
}

func TestDecode_Compressed(t *testing.T) {
	dec := NewDecoder(fullConfig)

	tests := []struct {
		name string
		half uint16
		want Instruction
	}{
		{"c.li", 0x4515, Instruction{Op: OpAddi, Rd: 10, Imm: 5}},
		{"c.addi", 0x0505, Instruction{Op: OpAddi, Rd: 10, Rs1: 10, Imm: 1}},
		{"c.mv", 0x85aa, Instruction{Op: OpAdd, Rd: 11, Rs2: 10}},
		{"c.add", 0x952e, Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11}},
		{"c.slli", 0x050a, Instruction{Op: OpSlli, Rd: 10, Rs1: 10, Imm: 2}},
		{"c.sub", 0x8d0d, Instruction{Op: OpSub, Rd: 10, Rs1: 10, Rs2: 11}},
		{"c.sdsp", 0xe42a, Instruction{Op: OpSd, Rs1: 2, Rs2: 10, Imm: 8}},
		{"c.ldsp", 0x65a2, Instruction{Op: OpLd, Rd: 11, Rs1: 2, Imm: 8}},
		{"c.j 0", 0xa001, Instruction{Op: OpJal}},
		{"c.j -2", 0xbffd, Instruction{Op: OpJal, Imm: -2}},
		{"c.beqz", 0xc101, Instruction{Op: OpBeq, Rs1: 10}},
		{"c.bnez -2", 0xfd7d, Instruction{Op: OpBne, Rs1: 10, Imm: -2}},
		{"c.lui", 0x6505, Instruction{Op: OpLui, Rd: 10, Imm: 4096}},
		{"c.addi16sp", 0x717d, Instruction{Op: OpAddi, Rd: 2, Rs1: 2, Imm: -16}},
		{"c.jr", 0x8082, Instruction{Op: OpJalr, Rs1: 1}},
		{"c.ebreak", 0x9002, Instruction{Op: OpEbreak}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dec.Decode(halves(tt.half), 0)
			require.NoError(t, err)
			tt.want.Length = 2
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_CompressedReserved(t *testing.T) {
	dec := NewDecoder(fullConfig)
	for _, h := range []uint16{0x0000, 0x2000 /* c.fld */, 0x6101 /* c.addi16sp 0 */} {
		_, err := dec.Decode(halves(h), 0)
		var de *DecodeError
		assert.ErrorAs(t, err, &de, "half 0x%04x", h)
	}
}

func TestDecode_FetchFailure(t *testing.T) {
	dec := NewDecoder(fullConfig)
	_, err := dec.Decode(code{0x13}, 0)
	assert.ErrorIs(t, err, errFetch)
}

func TestDecode_Fusion(t *testing.T) {
	dec := NewDecoder(fullConfig)

	t.Run("wide mul", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpMulh, Rd: 10, Rs1: 11, Rs2: 12},
			Instruction{Op: OpMul, Rd: 13, Rs1: 11, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpWideMul, Rd: 10, Rs1: 11, Rs2: 12, Rs3: 13, Length: 8}, got)
	})

	t.Run("wide divu", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpDivu, Rd: 10, Rs1: 11, Rs2: 12},
			Instruction{Op: OpRemu, Rd: 13, Rs1: 11, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpWideDivu, got.Op)
	})

	t.Run("clobbered source stays unfused", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpMulh, Rd: 11, Rs1: 11, Rs2: 12},
			Instruction{Op: OpMul, Rd: 13, Rs1: 11, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpMulh, got.Op)
		assert.Equal(t, uint8(4), got.Length)
	})

	t.Run("far jump rel", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpAuipc, Rd: RegRA, Imm: 4096},
			Instruction{Op: OpJalr, Rd: RegRA, Rs1: RegRA, Imm: -4},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpFarJumpRel, Rd: RegRA, Imm: 4092, Length: 8}, got)
	})

	t.Run("far jump abs", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpLui, Rd: RegRA, Imm: 0x10000},
			Instruction{Op: OpJalr, Rd: RegRA, Rs1: RegRA, Imm: 8},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpFarJumpAbs, Rd: RegRA, Imm: 0x10008, Length: 8}, got)
	})

	t.Run("sign-extended constant", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpLui, Rd: 10, Imm: -0x80000000},
			Instruction{Op: OpAddiw, Rd: 10, Rs1: 10, Imm: -1},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpLdSext32Const, Rd: 10, Imm: 0x7fffffff, Length: 8}, got)
	})

	t.Run("disabled without MOP", func(t *testing.T) {
		cfg := fullConfig
		cfg.ISA &^= ISAMOP
		mem := words(t,
			Instruction{Op: OpMulh, Rd: 10, Rs1: 11, Rs2: 12},
			Instruction{Op: OpMul, Rd: 13, Rs1: 11, Rs2: 12},
		)
		got, err := NewDecoder(cfg).Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpMulh, got.Op)
	})

	t.Run("second half unreadable", func(t *testing.T) {
		mem := words(t, Instruction{Op: OpMulh, Rd: 10, Rs1: 11, Rs2: 12})
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpMulh, got.Op)
	})

	t.Run("add with carry", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 12},
			Instruction{Op: OpSltu, Rd: 12, Rs1: 10, Rs2: 12},
			Instruction{Op: OpOr, Rd: 11, Rs1: 11, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpAdc, Rd: 10, Rs1: 11, Rs2: 12, Length: 20}, got)
	})

	t.Run("subtract with borrow", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpSub, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 13, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSub, Rd: 10, Rs1: 11, Rs2: 12},
			Instruction{Op: OpSltu, Rd: 12, Rs1: 11, Rs2: 10},
			Instruction{Op: OpOr, Rd: 12, Rs1: 12, Rs2: 13},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpSbb, Rd: 10, Rs1: 11, Rs2: 12, Rs3: 13, Length: 20}, got)

		parts, ok := Components(got)
		require.True(t, ok)
		for i, p := range parts {
			inst, ok := dec.DecodeWord(binary.LittleEndian.Uint32(mem[4*i:]))
			require.True(t, ok)
			assert.Equal(t, p, inst)
		}
	})

	t.Run("carry run broken", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 12},
			Instruction{Op: OpSltu, Rd: 12, Rs1: 10, Rs2: 12},
			Instruction{Op: OpAnd, Rd: 11, Rs1: 11, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11, Length: 4}, got)
	})

	t.Run("carry registers must differ", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpOr, Rd: 11, Rs1: 11, Rs2: 11},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpAdd, got.Op)
	})

	t.Run("carry run truncated", func(t *testing.T) {
		mem := words(t,
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 11},
			Instruction{Op: OpSltu, Rd: 11, Rs1: 10, Rs2: 11},
			Instruction{Op: OpAdd, Rd: 10, Rs1: 10, Rs2: 12},
		)
		got, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpAdd, got.Op)
	})
}

type countingDecoder struct {
	inner InstructionDecoder
	calls int
}

func (c *countingDecoder) Decode(mem Fetcher, pc uint64) (Instruction, error) {
	c.calls++
	return c.inner.Decode(mem, pc)
}

func TestCachedDecoder(t *testing.T) {
	counter := &countingDecoder{inner: NewDecoder(fullConfig)}
	dec, err := NewCachedDecoder(counter, 2)
	require.NoError(t, err)

	mem := halves(0x4515, 0x0505)
	for i := 0; i < 3; i++ {
		inst, err := dec.Decode(mem, 0)
		require.NoError(t, err)
		assert.Equal(t, OpAddi, inst.Op)
	}
	assert.Equal(t, 1, counter.calls)
	assert.Equal(t, 1, dec.Len())

	_, err = dec.Decode(mem, 64)
	require.Error(t, err)
	assert.Equal(t, 1, dec.Len(), "failed decodes are not cached")
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, fullConfig.Validate())

	bad := fullConfig
	bad.StackTop = 4<<20 + 1
	assert.Error(t, bad.Validate())

	bad = fullConfig
	bad.ISA = ISAB
	assert.Error(t, bad.Validate())

	bad = fullConfig
	bad.Version = 2
	assert.Error(t, bad.Validate())

	assert.Equal(t, "IMC+B+A+MOP", fullConfig.ISA.String())
}

func TestRegisters(t *testing.T) {
	for _, name := range []string{"x10", "a0"} {
		r, ok := LookupRegister(name)
		require.True(t, ok)
		assert.Equal(t, uint8(RegA0), r)
	}
	r, ok := LookupRegister("fp")
	require.True(t, ok)
	assert.Equal(t, "s0", RegisterName(r))
	_, ok = LookupRegister("x32")
	assert.False(t, ok)
}

func TestLookupOpcode(t *testing.T) {
	op, ok := LookupOpcode("sh1add.uw")
	require.True(t, ok)
	assert.Equal(t, OpSh1addUw, op)
	assert.False(t, op.IsFused())
	assert.True(t, OpWideMul.IsFused())
	assert.Equal(t, FormatFused, OpFarJumpAbs.Format())
	assert.True(t, OpSbb.IsFused())
	_, ok = Components(Instruction{Op: OpWideMul})
	assert.False(t, ok)
	_, ok = LookupOpcode("invalid")
	assert.False(t, ok)
}
