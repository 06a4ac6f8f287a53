// Package detectors scans function byte spans and instruction streams for
// fingerprints of known cryptographic algorithms.
package detectors

import (
	"bytes"
	"encoding/binary"

	"binfeat/internal/disasm"
)

// Detector matches one signature family against a function. Detect must be a
// pure function of its input so functions can be scanned concurrently.
type Detector interface {
	// Name is the key under which the match count is reported.
	Name() string
	// Label is the semantic label this signature implies, or "" when the
	// signature carries no labeling weight on its own.
	Label() string
	// Detect returns the number of independent matches in the function.
	Detect(fn *disasm.Function) int
}

// byteTable matches a fixed constant table byte-for-byte against the
// function's raw byte span. Word-derived tables carry both endianness
// renderings; a hit on either counts.
type byteTable struct {
	name     string
	label    string
	patterns [][]byte
}

func (d *byteTable) Name() string  { return d.name }
func (d *byteTable) Label() string { return d.label }

func (d *byteTable) Detect(fn *disasm.Function) int {
	n := 0
	for _, p := range d.patterns {
		n += bytes.Count(fn.Bytes, p)
	}
	return n
}

// newByteTable builds a detector for a raw byte pattern.
func newByteTable(name, label string, pattern []byte) *byteTable {
	return &byteTable{name: name, label: label, patterns: [][]byte{pattern}}
}

// newWordTable builds a detector for a sequence of 32-bit constants,
// rendered little- and big-endian.
func newWordTable(name, label string, words []uint32) *byteTable {
	le := make([]byte, 0, len(words)*4)
	be := make([]byte, 0, len(words)*4)
	for _, w := range words {
		le = binary.LittleEndian.AppendUint32(le, w)
		be = binary.BigEndian.AppendUint32(be, w)
	}
	return &byteTable{name: name, label: label, patterns: [][]byte{le, be}}
}

// bignumArith is an instruction-pattern heuristic for the wide multiply and
// carry-chain arithmetic characteristic of public-key big-integer code.
type bignumArith struct{}

// Thresholds below which a function is not considered big-integer code.
const (
	bignumMinInsts = 16
	bignumMinRatio = 0.12
)

var bignumMnemonics = map[string]bool{
	"mul": true, "imul": true, "mulx": true, "umulh": true, "smulh": true,
	"madd": true, "umaddl": true, "adc": true, "adcx": true, "adox": true,
	"adcs": true, "sbb": true, "sbcs": true,
}

func (d *bignumArith) Name() string  { return "has_bignum_arith" }
func (d *bignumArith) Label() string { return "RSA" }

func (d *bignumArith) Detect(fn *disasm.Function) int {
	if len(fn.Insts) < bignumMinInsts {
		return 0
	}
	hits := 0
	for _, in := range fn.Insts {
		if bignumMnemonics[in.Mnemonic] {
			hits++
		}
	}
	if float64(hits)/float64(len(fn.Insts)) < bignumMinRatio {
		return 0
	}
	return hits
}
