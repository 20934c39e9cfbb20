package comp

import "errors"

// Sentinel errors callers can test with errors.Is.
var (
	// ErrUnsupportedOpcode marks a function using opcodes this compiler
	// cannot lower: editor-state operations, the jump-table dispatch, or
	// the obsolete unbind-all form.
	ErrUnsupportedOpcode = errors.New("comp: unsupported opcode")

	// ErrRestArgs marks a function whose arity collects rest arguments;
	// those frames cannot use the fixed-slot layout.
	ErrRestArgs = errors.New("comp: rest arguments not supported")

	// ErrStackDepth marks bytecode whose stack usage escapes the declared
	// maximum depth.
	ErrStackDepth = errors.New("comp: stack depth out of bounds")

	// ErrBackend wraps failures reported by the code-generation backend.
	ErrBackend = errors.New("comp: backend failure")
)
