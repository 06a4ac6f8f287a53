// Package engine defines the boundary to the external disassembly engine
// and the backends that implement it. Everything engine-specific stays
// behind the Engine interface; the analyzers only ever see disasm types.
package engine

import (
	"context"
	"errors"
	"fmt"

	"binfeat/internal/disasm"
)

// Engine produces the raw per-function disassembly for one binary.
// Implementations must honor context cancellation: a fired deadline kills
// any in-flight external process and reclaims its resources.
type Engine interface {
	Name() string
	Disassemble(ctx context.Context, path string) (*disasm.RawBinary, error)
}

// ErrTimeout marks a binary whose disassembly exceeded the per-binary
// deadline. The batch records it and moves on.
var ErrTimeout = errors.New("disassembly engine timed out")

// CrashError reports an external engine process that exited abnormally.
type CrashError struct {
	Path     string
	ExitCode int
	Stderr   string
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("engine crashed on %s (exit %d): %s", e.Path, e.ExitCode, e.Stderr)
}
