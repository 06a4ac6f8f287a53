package engine

import (
	"errors"
	"testing"

	"binfeat/internal/disasm"
)

func TestParseExport(t *testing.T) {
	data := []byte(`{
		"arch": "x86:LE:64:default",
		"functions": [
			{
				"name": "AES_Encrypt",
				"addr": "0x401000",
				"bytes": "554889e5",
				"instructions": [
					{"addr": "0x401000", "mnemonic": "PUSH", "operands": ["RBP"], "len": 1},
					{"addr": "0x401001", "mnemonic": "MOV", "operands": ["RBP", "RSP"], "len": 3}
				],
				"blocks": [{"start": "0x401000", "end": "0x401004"}],
				"edges": [{"from": "0x401000", "to": "0x401000", "kind": "CONDITIONAL_JUMP"}]
			},
			{
				"name": "stub",
				"addr": "402000",
				"bytes": "",
				"instructions": [],
				"blocks": [],
				"edges": []
			}
		]
	}`)

	raw, err := parseExport("/in/a.elf", data)
	if err != nil {
		t.Fatalf("parseExport() error = %v", err)
	}
	if raw.Arch != "x86:LE:64:default" {
		t.Errorf("arch = %q", raw.Arch)
	}
	if len(raw.Functions) != 2 {
		t.Fatalf("got %d functions, want 2", len(raw.Functions))
	}

	fn := raw.Functions[0]
	if fn.Name != "AES_Encrypt" || fn.Addr != 0x401000 {
		t.Errorf("function = %q@%#x", fn.Name, fn.Addr)
	}
	if len(fn.Bytes) != 4 || fn.Bytes[0] != 0x55 {
		t.Errorf("bytes = %x", fn.Bytes)
	}
	// Mnemonics are normalized to lowercase at the boundary.
	if fn.Insts[0].Mnemonic != "push" || fn.Insts[1].Mnemonic != "mov" {
		t.Errorf("mnemonics = %q, %q", fn.Insts[0].Mnemonic, fn.Insts[1].Mnemonic)
	}
	if fn.Blocks[0].Start != 0x401000 || fn.Blocks[0].End != 0x401004 {
		t.Errorf("block = %+v", fn.Blocks[0])
	}
	if fn.Edges[0].Kind != "CONDITIONAL_JUMP" {
		t.Errorf("edge kind = %q", fn.Edges[0].Kind)
	}
	if disasm.ParseEdgeKind(fn.Edges[0].Kind) != disasm.EdgeCondBranch {
		t.Error("engine edge kind does not map to a conditional branch")
	}

	// Addresses without a 0x prefix parse too.
	if raw.Functions[1].Addr != 0x402000 {
		t.Errorf("second function addr = %#x", raw.Functions[1].Addr)
	}
}

func TestParseExportErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "<html>error</html>"},
		{"bad function address", `{"arch":"x","functions":[{"name":"f","addr":"zz"}]}`},
		{"bad byte span", `{"arch":"x","functions":[{"name":"f","addr":"0x10","bytes":"xyz"}]}`},
		{"bad instruction address", `{"arch":"x","functions":[{"name":"f","addr":"0x10","instructions":[{"addr":"??","mnemonic":"nop","len":1}]}]}`},
		{"bad block span", `{"arch":"x","functions":[{"name":"f","addr":"0x10","blocks":[{"start":"0x10","end":"bad"}]}]}`},
		{"bad edge", `{"arch":"x","functions":[{"name":"f","addr":"0x10","edges":[{"from":"nope","to":"0x10","kind":"call"}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseExport("/in/a.elf", []byte(tt.data))
			var crash *CrashError
			if !errors.As(err, &crash) {
				t.Fatalf("parseExport() error = %v, want *CrashError", err)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  hello  ", 10); got != "hello" {
		t.Errorf("truncate trims whitespace: %q", got)
	}
	if got := truncate("abcdefghij", 4); got != "abcd" {
		t.Errorf("truncate caps length: %q", got)
	}
}
