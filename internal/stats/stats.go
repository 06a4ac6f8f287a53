// Package stats computes instruction-level statistics: opcode histograms
// and mnemonic n-gram distributions.
package stats

import (
	"sort"
	"strings"

	"binfeat/internal/disasm"
)

// DefaultNGram is the window size used when none is configured.
const DefaultNGram = 2

// Result holds the instruction statistics for one function. Map iteration
// order is irrelevant here; serialization sorts keys for stable output.
type Result struct {
	InstCount   int                `json:"inst_count"`
	Histogram   map[string]int     `json:"opcode_histogram"`
	Frequencies map[string]float64 `json:"opcode_frequencies"`
	NGrams      map[string]int     `json:"ngrams"`
	NGramSize   int                `json:"ngram_size"`
	MicroOps    map[string]int     `json:"micro_ops,omitempty"`
}

// Analyze computes the opcode histogram, normalized frequencies, and n-gram
// counts over consecutive mnemonics. Micro-op counts are passed through
// unchanged when the engine reported them.
func Analyze(fn *disasm.Function, ngram int) Result {
	if ngram < 1 {
		ngram = DefaultNGram
	}
	res := Result{
		InstCount:   len(fn.Insts),
		Histogram:   make(map[string]int),
		Frequencies: make(map[string]float64),
		NGrams:      make(map[string]int),
		NGramSize:   ngram,
		MicroOps:    fn.MicroOps,
	}

	for _, in := range fn.Insts {
		res.Histogram[in.Mnemonic]++
	}
	if len(fn.Insts) > 0 {
		total := float64(len(fn.Insts))
		for m, c := range res.Histogram {
			res.Frequencies[m] = float64(c) / total
		}
	}

	for i := 0; i+ngram <= len(fn.Insts); i++ {
		parts := make([]string, ngram)
		for j := 0; j < ngram; j++ {
			parts[j] = fn.Insts[i+j].Mnemonic
		}
		res.NGrams[strings.Join(parts, "|")]++
	}

	return res
}

// SortedKeys returns the keys of an int-valued map in ascending order.
// Serialization uses it to keep histogram output byte-stable across runs.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
