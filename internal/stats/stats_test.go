package stats

import (
	"math"
	"reflect"
	"testing"

	"binfeat/internal/disasm"
)

func fnWith(mnemonics ...string) *disasm.Function {
	fn := &disasm.Function{}
	for i, m := range mnemonics {
		fn.Insts = append(fn.Insts, disasm.Inst{Addr: uint64(i * 4), Mnemonic: m, Len: 4})
	}
	return fn
}

func TestAnalyze(t *testing.T) {
	res := Analyze(fnWith("mov", "add", "mov", "ret"), 2)

	if res.InstCount != 4 {
		t.Errorf("inst count = %d, want 4", res.InstCount)
	}
	wantHist := map[string]int{"mov": 2, "add": 1, "ret": 1}
	if !reflect.DeepEqual(res.Histogram, wantHist) {
		t.Errorf("histogram = %v, want %v", res.Histogram, wantHist)
	}
	if got := res.Frequencies["mov"]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("freq[mov] = %v, want 0.5", got)
	}
	wantGrams := map[string]int{"mov|add": 1, "add|mov": 1, "mov|ret": 1}
	if !reflect.DeepEqual(res.NGrams, wantGrams) {
		t.Errorf("ngrams = %v, want %v", res.NGrams, wantGrams)
	}
	if res.NGramSize != 2 {
		t.Errorf("ngram size = %d, want 2", res.NGramSize)
	}
}

func TestAnalyzeFrequenciesSumToOne(t *testing.T) {
	res := Analyze(fnWith("a", "b", "b", "c", "c", "c"), 2)
	var sum float64
	for _, f := range res.Frequencies {
		sum += f
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("frequencies sum to %v, want 1.0", sum)
	}
}

func TestAnalyzeNGramEdgeCases(t *testing.T) {
	tests := []struct {
		name      string
		mnemonics []string
		ngram     int
		wantSize  int
		wantGrams map[string]int
	}{
		{
			name:      "window larger than stream",
			mnemonics: []string{"mov", "ret"},
			ngram:     3,
			wantSize:  3,
			wantGrams: map[string]int{},
		},
		{
			name:      "window equals stream",
			mnemonics: []string{"mov", "add", "ret"},
			ngram:     3,
			wantSize:  3,
			wantGrams: map[string]int{"mov|add|ret": 1},
		},
		{
			name:      "zero window falls back to default",
			mnemonics: []string{"mov", "ret"},
			ngram:     0,
			wantSize:  DefaultNGram,
			wantGrams: map[string]int{"mov|ret": 1},
		},
		{
			name:      "unigrams",
			mnemonics: []string{"mov", "mov"},
			ngram:     1,
			wantSize:  1,
			wantGrams: map[string]int{"mov": 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(fnWith(tt.mnemonics...), tt.ngram)
			if res.NGramSize != tt.wantSize {
				t.Errorf("ngram size = %d, want %d", res.NGramSize, tt.wantSize)
			}
			if !reflect.DeepEqual(res.NGrams, tt.wantGrams) {
				t.Errorf("ngrams = %v, want %v", res.NGrams, tt.wantGrams)
			}
		})
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	res := Analyze(&disasm.Function{}, 2)
	if res.InstCount != 0 || len(res.Histogram) != 0 || len(res.NGrams) != 0 {
		t.Errorf("empty function stats = %+v", res)
	}
	if res.Histogram == nil || res.Frequencies == nil || res.NGrams == nil {
		t.Error("maps must be allocated even for empty functions")
	}
}

func TestMicroOpsPassthrough(t *testing.T) {
	fn := fnWith("mov")
	fn.MicroOps = map[string]int{"load": 1}
	res := Analyze(fn, 2)
	if !reflect.DeepEqual(res.MicroOps, fn.MicroOps) {
		t.Errorf("micro ops = %v, want %v", res.MicroOps, fn.MicroOps)
	}
}

func TestSortedKeys(t *testing.T) {
	got := SortedKeys(map[string]int{"ret": 1, "add": 2, "mov": 3})
	want := []string{"add", "mov", "ret"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedKeys() = %v, want %v", got, want)
	}
}
