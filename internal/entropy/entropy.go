// Package entropy computes Shannon entropy measures over a function's raw
// byte span and its mnemonic stream.
package entropy

import (
	"math"

	"binfeat/internal/disasm"
)

// Result holds the entropy measures for one function. Byte entropy ranges
// over [0, 8]; opcode entropy over [0, log2(distinct mnemonics)].
type Result struct {
	ByteEntropy   float64 `json:"byte_entropy"`
	OpcodeEntropy float64 `json:"opcode_entropy"`
}

// Analyze computes both entropy streams for a function. Values are rounded
// to six decimal places so repeated runs serialize identically.
func Analyze(fn *disasm.Function) Result {
	mnemonics := make([]string, len(fn.Insts))
	for i, in := range fn.Insts {
		mnemonics[i] = in.Mnemonic
	}
	return Result{
		ByteEntropy:   Round(Bytes(fn.Bytes)),
		OpcodeEntropy: Round(Symbols(mnemonics)),
	}
}

// Bytes returns the Shannon entropy of a byte slice in bits per symbol,
// 0.0 for fewer than two distinct byte values.
func Bytes(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	return shannon(freq[:], len(data))
}

// Symbols returns the Shannon entropy over an arbitrary symbol stream,
// with the alphabet taken to be the distinct symbols observed.
func Symbols(symbols []string) float64 {
	if len(symbols) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, s := range symbols {
		counts[s]++
	}
	freq := make([]int, 0, len(counts))
	for _, c := range counts {
		freq = append(freq, c)
	}
	return shannon(freq, len(symbols))
}

// shannon evaluates -sum p*log2(p) over observed frequencies.
func shannon(freq []int, total int) float64 {
	var h float64
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	if h < 0 { // -0.0 from a single-symbol stream
		h = 0
	}
	return h
}

// Round truncates an entropy value to six decimal places.
func Round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
