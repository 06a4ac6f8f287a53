package engine

import (
	"context"
	"debug/elf"
	"fmt"

	"binfeat/internal/disasm"
	"binfeat/internal/elfx"
)

// Native is an in-process fallback backend: linear disassembly of symbol-
// bounded functions with block discovery from branch targets. It needs a
// symbol table, so stripped binaries come back mostly empty — the Ghidra
// backend is the primary engine.
type Native struct{}

func NewNative() *Native { return &Native{} }

func (n *Native) Name() string { return "native" }

// flowKind classifies how a decoded instruction affects control flow.
type flowKind int

const (
	flowNone flowKind = iota
	flowCond
	flowJump
	flowCall
	flowRet
)

// natInst is one decoded instruction plus its control-flow effect.
type natInst struct {
	disasm.Inst
	flow      flowKind
	target    uint64
	hasTarget bool
}

func (n *Native) Disassemble(ctx context.Context, path string) (*disasm.RawBinary, error) {
	im, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	defer im.Close()

	var decode func(addr uint64, code []byte) []natInst
	var arch string
	switch im.File.Machine {
	case elf.EM_X86_64:
		arch, decode = "x86:64", decodeX86
	case elf.EM_AARCH64:
		arch, decode = "aarch64", decodeARM64
	default:
		return nil, fmt.Errorf("native backend does not support machine %v", im.File.Machine)
	}

	raw := &disasm.RawBinary{Path: path, Arch: arch}
	for _, sym := range im.FuncSyms() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		code, ok := im.SliceVA(sym.Addr, sym.Size)
		if !ok || len(code) == 0 {
			// Undecodable spans still produce a record downstream.
			raw.Functions = append(raw.Functions, disasm.RawFunction{Name: sym.Name, Addr: sym.Addr})
			continue
		}
		insts := decode(sym.Addr, code)
		rf := liftFunction(sym.Name, sym.Addr, code, insts)
		raw.Functions = append(raw.Functions, rf)
	}
	return raw, nil
}

// liftFunction splits a linear instruction stream into basic blocks and
// intra-function edges. Leaders are the function start, every in-function
// branch target, and every instruction following a terminator.
func liftFunction(name string, addr uint64, code []byte, insts []natInst) disasm.RawFunction {
	rf := disasm.RawFunction{Name: name, Addr: addr, Bytes: code}
	for _, in := range insts {
		rf.Insts = append(rf.Insts, in.Inst)
	}
	if len(insts) == 0 {
		return rf
	}
	end := addr + uint64(len(code))
	inFunc := func(a uint64) bool { return a >= addr && a < end }

	leaders := map[uint64]bool{insts[0].Addr: true}
	for i, in := range insts {
		switch in.flow {
		case flowCond, flowJump:
			if in.hasTarget && inFunc(in.target) {
				leaders[in.target] = true
			}
			fallthrough
		case flowRet:
			if i+1 < len(insts) {
				leaders[insts[i+1].Addr] = true
			}
		}
	}

	// Blocks in address order, which here is also discovery order.
	var starts []int
	for i, in := range insts {
		if leaders[in.Addr] {
			starts = append(starts, i)
		}
	}
	for bi, first := range starts {
		last := len(insts)
		if bi+1 < len(starts) {
			last = starts[bi+1]
		}
		blockEnd := insts[last-1].Addr + uint64(insts[last-1].Len)
		rf.Blocks = append(rf.Blocks, disasm.RawBlock{Start: insts[first].Addr, End: blockEnd})

		term := insts[last-1]
		fallTo := uint64(0)
		if last < len(insts) {
			fallTo = insts[last].Addr
		}
		switch term.flow {
		case flowCond:
			if term.hasTarget && inFunc(term.target) && leaders[term.target] {
				rf.Edges = append(rf.Edges, disasm.RawEdge{From: insts[first].Addr, To: term.target, Kind: "conditional"})
			}
			if fallTo != 0 {
				rf.Edges = append(rf.Edges, disasm.RawEdge{From: insts[first].Addr, To: fallTo, Kind: "fall_through"})
			}
		case flowJump:
			if term.hasTarget && inFunc(term.target) && leaders[term.target] {
				rf.Edges = append(rf.Edges, disasm.RawEdge{From: insts[first].Addr, To: term.target, Kind: "unconditional"})
			}
		case flowRet:
			// No successors.
		default:
			if fallTo != 0 {
				rf.Edges = append(rf.Edges, disasm.RawEdge{From: insts[first].Addr, To: fallTo, Kind: "fall_through"})
			}
		}
	}
	return rf
}
