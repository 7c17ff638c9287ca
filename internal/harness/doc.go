// Package harness checks programs end to end.
//
// Validator is the round-trip checker: it runs two concrete machines in
// lockstep, feeding one the decoded instructions and the other those
// instructions printed and parsed back, and requires both to stay equal.
//
// Scenarios wrap a program with its expected outcome:
//
//	name: wide_multiply
//	description: "mulhu/mul pair fuses and matches the interpreter"
//	mode: both
//	program: |
//	  li a1, -1
//	  li a2, 3
//	  mulhu a0, a1, a2
//	  mul a3, a1, a2
//	  li a7, 93
//	  ecall
//	expect:
//	  exit_code: 2
//	  registers:
//	    a3: -3
//	  ecalls: 1
//
// In run mode the program goes through the effect-recording engine with the
// plain interpreter checking each step. In roundtrip mode it goes through
// Validator. Mode both does each and requires them to agree. Traces can be
// pinned with golden files under testdata/golden.
package harness
