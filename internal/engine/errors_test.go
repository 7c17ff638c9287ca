package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rvcheck/internal/machine"
)

func TestFault_Error(t *testing.T) {
	f := &Fault{Code: CodeCommit, Message: "store failed", PC: 0x10008, Step: 3}
	assert.Equal(t, "COMMIT_ERROR: store failed (pc=0x10008, step=3)", f.Error())

	load := NewLoadFault(errors.New("bad magic"))
	assert.Equal(t, "LOAD_ERROR: cannot load program", load.Error())
	assert.EqualError(t, errors.Unwrap(load), "bad magic")
}

func TestFault_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", &Fault{Code: CodeDecode})
	assert.True(t, IsDecodeFault(wrapped))
	assert.False(t, IsCommitFault(wrapped))
	assert.Equal(t, CodeDecode, CodeOf(wrapped))
	assert.Equal(t, FaultCode(""), CodeOf(errors.New("plain")))

	assert.True(t, IsExecutionFault(&Fault{Code: CodeExecution}))
	assert.True(t, IsEvaluationFault(&Fault{Code: CodeEvaluation}))
	assert.True(t, IsMismatch(NewMismatchFault(0, 1, "x")))
}

func TestCommitCode(t *testing.T) {
	memErr := &machine.MemoryError{Op: "store", Addr: 1, Size: 8, Err: machine.ErrOutOfBound}
	assert.Equal(t, CodeCommit, commitCode(fmt.Errorf("wrapped: %w", memErr)))
	assert.Equal(t, CodeExecution, commitCode(&machine.SyscallError{Code: 1}))
}
