// Package engine runs a program through effect recording and deferred
// commit.
//
// The Driver owns one concrete machine. For every instruction it:
//
//  1. decodes at the machine's pc
//  2. resets the recorder and lets exec.Execute record the instruction
//  3. drains the batch and evaluates every expression against the machine
//     as it stood before the instruction
//  4. commits in a fixed order: pc, memory, reservation, registers, ecall,
//     ebreak
//
// Evaluation finishes before the first commit, so no expression can see a
// write from its own batch. Register writes commit in record order, so the
// later of two writes to one register wins.
//
// The first fault stops the run. Faults carry a code (see FaultCode), the pc
// and the step number, and wrap the lower-level error.
//
// The loop is single-threaded. A Driver must not be shared between
// goroutines.
package engine
