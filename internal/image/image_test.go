package image

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRead(t *testing.T) {
	code := []byte{0x93, 0x02, 0xa0, 0x02, 0x73, 0x00, 0x00, 0x00}
	data := []byte("hello\x00")
	img := Build(0x10000,
		Segment{Addr: 0x10000, Data: code, Flags: elf.PF_R | elf.PF_X},
		Segment{Addr: 0x20010, Data: data, MemSize: 64, Flags: elf.PF_R | elf.PF_W},
	)

	entry, segs, err := Read(img)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), entry)
	require.Len(t, segs, 2)

	assert.True(t, segs[0].Executable())
	assert.Equal(t, code, segs[0].Data)
	assert.Equal(t, uint64(len(code)), segs[0].MemSize)

	assert.False(t, segs[1].Executable())
	assert.Equal(t, uint64(0x20010), segs[1].Addr)
	assert.Equal(t, data, segs[1].Data)
	assert.Equal(t, uint64(64), segs[1].MemSize)
}

func TestBuild_IsRISCV(t *testing.T) {
	img := Text(0x1000, []byte{0x73, 0, 0, 0})
	f, err := elf.NewFile(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, elf.EM_RISCV, f.Machine)
	assert.Equal(t, elf.ELFCLASS64, f.Class)
	assert.Equal(t, elf.ET_EXEC, f.Type)
	require.Len(t, f.Progs, 1)
	assert.Equal(t, uint64(0x1000)%4096, f.Progs[0].Off%4096)
}

func TestRead_Garbage(t *testing.T) {
	_, _, err := Read([]byte("not an elf"))
	assert.Error(t, err)
}
