// Package disasm defines the engine-neutral function model shared by the
// disassembly backends and the feature analyzers.
package disasm

import "fmt"

// EdgeKind classifies a control-flow transition between two basic blocks.
type EdgeKind int

const (
	EdgeFallThrough EdgeKind = iota
	EdgeCondBranch
	EdgeUncondBranch
	EdgeCall
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFallThrough:
		return "fall_through"
	case EdgeCondBranch:
		return "conditional"
	case EdgeUncondBranch:
		return "unconditional"
	case EdgeCall:
		return "call"
	default:
		return "unknown"
	}
}

// ParseEdgeKind maps an engine-reported kind string to an EdgeKind.
// Unrecognized kinds degrade to fall-through rather than failing the function.
func ParseEdgeKind(s string) EdgeKind {
	switch s {
	case "conditional", "CONDITIONAL_JUMP":
		return EdgeCondBranch
	case "unconditional", "UNCONDITIONAL_JUMP":
		return EdgeUncondBranch
	case "call", "CALL", "UNCONDITIONAL_CALL", "CONDITIONAL_CALL":
		return EdgeCall
	default:
		return EdgeFallThrough
	}
}

// Inst is a simplified decoded instruction.
type Inst struct {
	Addr     uint64   // virtual address of instruction
	Mnemonic string   // mnemonic in lowercase
	Operands []string // operand text tokens
	Len      int      // encoded byte length
}

// BasicBlock is a maximal straight-line run of instructions. First/Last is
// the half-open index range of the block's instructions within Function.Insts.
type BasicBlock struct {
	Start uint64 // address of the first instruction
	End   uint64 // address one past the last instruction
	First int
	Last  int
}

// Size returns the number of instructions in the block.
func (b BasicBlock) Size() int { return b.Last - b.First }

// Edge is a control-flow transition between two blocks of the same function,
// identified by their start addresses.
type Edge struct {
	From uint64
	To   uint64
	Kind EdgeKind
}

// Function is a validated, fully-resolved function record. Blocks keep the
// engine's discovery order; downstream node-level feature vectors follow it.
type Function struct {
	Name     string
	Addr     uint64
	Bytes    []byte
	Insts    []Inst
	Blocks   []BasicBlock
	Edges    []Edge
	MicroOps map[string]int // optional engine enrichment, nil when absent
}

// FormatAddr renders an address as fixed-width hex without a 0x prefix,
// the form used throughout the output schema.
func FormatAddr(addr uint64) string {
	return fmt.Sprintf("%08x", addr)
}

// BlockIndex returns the position of the block starting at addr in the
// function's block list, or -1 if no such block exists.
func (f *Function) BlockIndex(addr uint64) int {
	for i, b := range f.Blocks {
		if b.Start == addr {
			return i
		}
	}
	return -1
}
