// Package features assembles the per-function FeatureRecord and the
// per-binary output document from the individual analyzers.
package features

import (
	"errors"
	"sort"

	"binfeat/internal/cfg"
	"binfeat/internal/detectors"
	"binfeat/internal/disasm"
	"binfeat/internal/entropy"
	"binfeat/internal/labeling"
	"binfeat/internal/stats"
)

// Record is the complete feature set for one function. The node_level and
// edge_level lengths always equal the reported block and edge counts.
type Record struct {
	Name             string          `json:"name"`
	Demangled        string          `json:"demangled,omitempty"`
	Address          string          `json:"address" jsonschema:"description=Fixed-width hex address without 0x prefix"`
	Label            string          `json:"label"`
	GraphLevel       cfg.GraphLevel  `json:"graph_level"`
	NodeLevel        []cfg.NodeLevel `json:"node_level"`
	EdgeLevel        []cfg.EdgeLevel `json:"edge_level"`
	InstructionStats stats.Result    `json:"instruction_stats"`
	Entropy          entropy.Result  `json:"entropy"`
	CryptoSignatures map[string]int  `json:"crypto_signatures"`
	Error            string          `json:"error,omitempty"`
}

// Metadata describes the binary an output document was extracted from.
// Deliberately free of timestamps: re-running on unchanged input must
// produce byte-identical JSON.
type Metadata struct {
	Digest        string `json:"digest" jsonschema:"description=SHA-256 of the binary file"`
	Engine        string `json:"engine"`
	Arch          string `json:"arch,omitempty"`
	FunctionCount int    `json:"function_count"`
	ErrorCount    int    `json:"error_count"`
}

// Document is the top-level JSON artifact written per binary.
type Document struct {
	Binary    string   `json:"binary"`
	Metadata  Metadata `json:"metadata"`
	Functions []Record `json:"functions"`
}

// Builder runs the analyzers in sequence over normalized functions. It
// holds only read-only state and is safe for concurrent use.
type Builder struct {
	registry *detectors.Registry
	labeler  *labeling.Engine
	ngram    int
}

func NewBuilder(registry *detectors.Registry, labeler *labeling.Engine, ngram int) *Builder {
	if ngram < 1 {
		ngram = stats.DefaultNGram
	}
	return &Builder{registry: registry, labeler: labeler, ngram: ngram}
}

// BuildBinary produces the output document for one binary. Functions are
// ordered by start address; per-function failures become error entries on
// the affected record rather than failing the binary.
func (b *Builder) BuildBinary(raw *disasm.RawBinary, name, digest, engineName string) *Document {
	funcs := make([]disasm.RawFunction, len(raw.Functions))
	copy(funcs, raw.Functions)
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })

	doc := &Document{
		Binary: name,
		Metadata: Metadata{
			Digest:        digest,
			Engine:        engineName,
			Arch:          raw.Arch,
			FunctionCount: len(funcs),
		},
		Functions: make([]Record, 0, len(funcs)),
	}
	for _, rf := range funcs {
		rec := b.Build(rf)
		if rec.Error != "" {
			doc.Metadata.ErrorCount++
		}
		doc.Functions = append(doc.Functions, rec)
	}
	return doc
}

// Build produces the FeatureRecord for one raw function.
func (b *Builder) Build(raw disasm.RawFunction) Record {
	rec := Record{
		Name:    raw.Name,
		Address: disasm.FormatAddr(raw.Addr),
	}
	if d := labeling.Demangle(raw.Name); d != raw.Name {
		rec.Demangled = d
	}

	fn, err := disasm.Normalize(raw)
	switch {
	case errors.Is(err, disasm.ErrEmptyFunction):
		// Emitted as a degenerate record so function counts stay stable.
		return b.degenerate(rec, fn)
	case err != nil:
		var malformed *disasm.MalformedCFGError
		if errors.As(err, &malformed) {
			// CFG-derived fields are rejected; everything computable from
			// the instruction stream and byte span is still reported.
			fn = &disasm.Function{Name: raw.Name, Addr: raw.Addr, Bytes: raw.Bytes, Insts: raw.Insts, MicroOps: raw.MicroOps}
			rec.Error = malformed.Error()
		} else {
			rec.Error = err.Error()
			return b.degenerate(rec, &disasm.Function{Name: raw.Name, Addr: raw.Addr})
		}
	}

	cfgRes := cfg.Analyze(fn)
	rec.GraphLevel = cfgRes.Graph
	rec.NodeLevel = cfgRes.Nodes
	rec.EdgeLevel = cfgRes.Edges
	rec.InstructionStats = stats.Analyze(fn, b.ngram)
	rec.Entropy = entropy.Analyze(fn)
	rec.CryptoSignatures = b.registry.Scan(fn)

	matchName := rec.Name
	if rec.Demangled != "" {
		matchName = rec.Demangled
	}
	rec.Label = b.labeler.Label(matchName, rec.CryptoSignatures)
	return rec
}

// degenerate fills a record for a function with no usable instruction
// stream: zero-valued metrics, an all-zero signature scan, label Unknown.
func (b *Builder) degenerate(rec Record, fn *disasm.Function) Record {
	rec.Label = labeling.DefaultLabel
	rec.NodeLevel = []cfg.NodeLevel{}
	rec.EdgeLevel = []cfg.EdgeLevel{}
	rec.InstructionStats = stats.Result{
		Histogram:   map[string]int{},
		Frequencies: map[string]float64{},
		NGrams:      map[string]int{},
		NGramSize:   b.ngram,
	}
	scan := make(map[string]int, len(b.registry.Detectors()))
	for _, d := range b.registry.Detectors() {
		scan[d.Name()] = 0
	}
	rec.CryptoSignatures = scan
	return rec
}
