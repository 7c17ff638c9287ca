package machine

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/rvcheck/internal/rv"
)

// Environment call numbers, passed in a7.
const (
	SyscallExit  = 93
	SyscallDebug = 2177
)

// Syscalls handles environment calls the machine does not know. Ecall
// reports whether it handled the call.
type Syscalls interface {
	Ecall(m *Machine) (bool, error)
}

// SyscallError reports an environment call nobody handled.
type SyscallError struct {
	Code uint64
	PC   uint64
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("unsupported syscall %d at pc 0x%x", e.Code, e.PC)
}

// Ecall dispatches on a7. Exit is built in; everything else goes to the
// registered handlers.
func (m *Machine) Ecall() error {
	code := m.regs[rv.RegA7]
	if code == SyscallExit {
		m.Exit(int8(m.regs[rv.RegA0]))
		slog.Debug("guest exit", "pc", hex(m.pc), "code", m.exitCode)
		return nil
	}
	for _, s := range m.syscalls {
		handled, err := s.Ecall(m)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	return &SyscallError{Code: code, PC: m.pc}
}

// maxDebugString bounds how far DebugSyscall scans for a terminator.
const maxDebugString = 64 << 10

// DebugSyscall prints the NUL-terminated string at a0, followed by a
// newline, for syscall 2177.
type DebugSyscall struct {
	W io.Writer
}

func (d DebugSyscall) Ecall(m *Machine) (bool, error) {
	if m.regs[rv.RegA7] != SyscallDebug {
		return false, nil
	}
	addr := m.regs[rv.RegA0]
	var buf []byte
	for i := uint64(0); i < maxDebugString; i++ {
		b, err := m.mem.Load(addr+i, 1)
		if err != nil {
			return true, err
		}
		if b == 0 {
			break
		}
		buf = append(buf, byte(b))
	}
	buf = append(buf, '\n')
	_, err := d.W.Write(buf)
	return true, err
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
