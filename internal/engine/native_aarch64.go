package engine

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"binfeat/internal/disasm"
)

// decodeARM64 linearly decodes AArch64 code. Undecodable words are skipped
// rather than aborting: inline literal pools are common in this ISA.
func decodeARM64(addr uint64, code []byte) []natInst {
	var out []natInst
	for off := 0; off+4 <= len(code); off += 4 {
		inst, err := arm64asm.Decode(code[off : off+4])
		if err != nil {
			continue
		}
		text := strings.ToLower(inst.String())
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		ni := natInst{Inst: disasm.Inst{
			Addr:     addr + uint64(off),
			Mnemonic: fields[0],
			Len:      4,
		}}
		if len(fields) > 1 {
			for _, op := range strings.Split(strings.Join(fields[1:], " "), ", ") {
				ni.Operands = append(ni.Operands, strings.TrimSpace(op))
			}
		}
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			if rel, ok := a.(arm64asm.PCRel); ok {
				ni.target = ni.Addr + uint64(int64(rel))
				ni.hasTarget = true
			}
		}
		switch {
		case ni.Mnemonic == "ret":
			ni.flow = flowRet
		case ni.Mnemonic == "b", ni.Mnemonic == "br":
			ni.flow = flowJump
		case ni.Mnemonic == "bl", ni.Mnemonic == "blr":
			ni.flow = flowCall
		case strings.HasPrefix(ni.Mnemonic, "b."),
			ni.Mnemonic == "cbz", ni.Mnemonic == "cbnz",
			ni.Mnemonic == "tbz", ni.Mnemonic == "tbnz":
			ni.flow = flowCond
		}
		out = append(out, ni)
	}
	return out
}
