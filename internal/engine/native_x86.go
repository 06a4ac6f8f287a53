package engine

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"binfeat/internal/disasm"
)

var x86CondJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JNE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JO: true, x86asm.JNO: true,
	x86asm.JP: true, x86asm.JNP: true, x86asm.JS: true, x86asm.JNS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
}

// decodeX86 linearly decodes 64-bit x86 code. Decoding stops at the first
// undecodable byte; whatever was recovered up to that point is kept.
func decodeX86(addr uint64, code []byte) []natInst {
	var out []natInst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			break
		}
		ni := natInst{Inst: disasm.Inst{
			Addr:     addr + uint64(off),
			Mnemonic: strings.ToLower(inst.Op.String()),
			Len:      inst.Len,
		}}
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			ni.Operands = append(ni.Operands, strings.ToLower(a.String()))
			if rel, ok := a.(x86asm.Rel); ok {
				ni.target = ni.Addr + uint64(inst.Len) + uint64(int64(rel))
				ni.hasTarget = true
			}
		}
		switch {
		case inst.Op == x86asm.RET || inst.Op == x86asm.LRET:
			ni.flow = flowRet
		case inst.Op == x86asm.JMP || inst.Op == x86asm.LJMP:
			ni.flow = flowJump
		case inst.Op == x86asm.CALL || inst.Op == x86asm.LCALL:
			ni.flow = flowCall
		case x86CondJumps[inst.Op]:
			ni.flow = flowCond
		}
		out = append(out, ni)
		off += inst.Len
	}
	return out
}
