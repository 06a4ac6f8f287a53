package disasm

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyFunction marks a function the engine recovered with zero
// instructions. Such functions are still emitted downstream as degenerate
// records so per-binary function counts stay stable.
var ErrEmptyFunction = errors.New("function has no instructions")

// MalformedCFGError reports a structurally invalid control-flow graph: an
// edge endpoint that resolves to no known block, or overlapping blocks.
type MalformedCFGError struct {
	Func   string
	Addr   uint64
	Detail string
}

func (e *MalformedCFGError) Error() string {
	return fmt.Sprintf("malformed CFG in %s@%s: %s", e.Func, FormatAddr(e.Addr), e.Detail)
}

// RawBlock is an engine-reported basic block span.
type RawBlock struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// RawEdge is an engine-reported control-flow edge between block starts.
type RawEdge struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
	Kind string `json:"kind"`
}

// RawFunction is the unvalidated per-function output of a disassembly
// backend. Everything engine-specific has already been flattened away.
type RawFunction struct {
	Name     string
	Addr     uint64
	Bytes    []byte
	Insts    []Inst
	Blocks   []RawBlock
	Edges    []RawEdge
	MicroOps map[string]int
}

// RawBinary is a backend's complete output for one binary.
type RawBinary struct {
	Path      string
	Arch      string
	Functions []RawFunction
}

// Normalize validates a raw function and produces the internal Function
// record. A function with zero instructions yields a degenerate Function
// together with ErrEmptyFunction; CFG inconsistencies yield a
// *MalformedCFGError and no Function.
func Normalize(raw RawFunction) (*Function, error) {
	fn := &Function{
		Name:     raw.Name,
		Addr:     raw.Addr,
		Bytes:    raw.Bytes,
		Insts:    raw.Insts,
		MicroOps: raw.MicroOps,
	}

	if len(raw.Insts) == 0 {
		return fn, ErrEmptyFunction
	}

	starts := make(map[uint64]bool, len(raw.Blocks))
	for _, b := range raw.Blocks {
		if b.End < b.Start {
			return nil, &MalformedCFGError{raw.Name, b.Start, "block end precedes start"}
		}
		if starts[b.Start] {
			return nil, &MalformedCFGError{raw.Name, b.Start, "duplicate block start"}
		}
		starts[b.Start] = true
	}
	if err := checkOverlap(raw); err != nil {
		return nil, err
	}

	// Instructions are resolved to blocks by address. Engines report blocks
	// in discovery order, which must be preserved for node-level output.
	sortedInsts := make([]Inst, len(raw.Insts))
	copy(sortedInsts, raw.Insts)
	sort.Slice(sortedInsts, func(i, j int) bool { return sortedInsts[i].Addr < sortedInsts[j].Addr })
	fn.Insts = sortedInsts

	fn.Blocks = make([]BasicBlock, 0, len(raw.Blocks))
	for _, b := range raw.Blocks {
		first := sort.Search(len(sortedInsts), func(i int) bool { return sortedInsts[i].Addr >= b.Start })
		last := first
		for last < len(sortedInsts) && sortedInsts[last].Addr < b.End {
			last++
		}
		fn.Blocks = append(fn.Blocks, BasicBlock{Start: b.Start, End: b.End, First: first, Last: last})
	}

	for _, e := range raw.Edges {
		if !starts[e.From] {
			return nil, &MalformedCFGError{raw.Name, e.From, "edge source references unknown block"}
		}
		if !starts[e.To] {
			return nil, &MalformedCFGError{raw.Name, e.To, "edge target references unknown block"}
		}
		fn.Edges = append(fn.Edges, Edge{From: e.From, To: e.To, Kind: ParseEdgeKind(e.Kind)})
	}

	return fn, nil
}

func checkOverlap(raw RawFunction) error {
	if len(raw.Blocks) < 2 {
		return nil
	}
	byStart := make([]RawBlock, len(raw.Blocks))
	copy(byStart, raw.Blocks)
	sort.Slice(byStart, func(i, j int) bool { return byStart[i].Start < byStart[j].Start })
	for i := 1; i < len(byStart); i++ {
		if byStart[i].Start < byStart[i-1].End {
			return &MalformedCFGError{raw.Name, byStart[i].Start, "overlapping blocks"}
		}
	}
	return nil
}
