// Package batch orchestrates feature extraction over a directory of
// binaries: discovery, bounded parallelism, per-binary timeouts, failure
// isolation, and atomic output writes.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"binfeat/internal/config"
	"binfeat/internal/engine"
	"binfeat/internal/features"
	"binfeat/internal/metrics"
	"binfeat/internal/storage"
)

// binaryExts are the file extensions considered candidate binaries.
var binaryExts = map[string]bool{".elf": true, ".o": true, ".a": true, ".bin": true}

// NamingCollisionError aborts the whole batch before processing begins:
// two inputs mapping to one output file risks silent clobbering.
type NamingCollisionError struct {
	Output string
	First  string
	Second string
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf("naming collision: %s and %s both map to %s", e.First, e.Second, e.Output)
}

// BinaryResult is the per-binary entry of the run summary.
type BinaryResult struct {
	Binary         string `json:"binary"`
	Output         string `json:"output,omitempty"`
	Functions      int    `json:"functions"`
	FunctionErrors int    `json:"function_errors"`
	Cached         bool   `json:"cached,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

// Summary is the aggregate result of one batch run.
type Summary struct {
	RunID          string         `json:"run_id"`
	InputDir       string         `json:"input_dir"`
	Engine         string         `json:"engine"`
	BinariesTotal  int            `json:"binaries_total"`
	BinariesOK     int            `json:"binaries_ok"`
	BinariesFailed int            `json:"binaries_failed"`
	FunctionsTotal int            `json:"functions_total"`
	FunctionErrors int            `json:"function_errors"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Results        []BinaryResult `json:"results"`
}

// Orchestrator wires the engine, the feature builder, and the optional
// sinks together for one run. All shared state is read-only.
type Orchestrator struct {
	cfg     config.Config
	eng     engine.Engine
	builder *features.Builder
	cache   *storage.Cache    // nil when disabled
	metrics *metrics.Registry // nil when disabled
	logger  *log.Logger
}

func New(cfg config.Config, eng engine.Engine, builder *features.Builder, cache *storage.Cache, m *metrics.Registry, logger *log.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, eng: eng, builder: builder, cache: cache, metrics: m, logger: logger}
}

// Run processes every candidate binary under inputDir. Per-binary failures
// are recorded and do not abort the batch; naming collisions abort before
// any processing starts.
func (o *Orchestrator) Run(ctx context.Context, inputDir string) (*Summary, error) {
	start := time.Now()

	paths, err := discover(inputDir)
	if err != nil {
		return nil, err
	}
	if err := checkCollisions(paths); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(o.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	summary := &Summary{
		RunID:         uuid.NewString(),
		InputDir:      inputDir,
		Engine:        o.eng.Name(),
		BinariesTotal: len(paths),
	}

	var mu sync.Mutex
	pool := newWorkerPool(o.cfg.BatchSize, o.logger)
	for _, path := range paths {
		path := path
		pool.submit(func() {
			res := o.processBinary(ctx, path)
			mu.Lock()
			summary.Results = append(summary.Results, res)
			mu.Unlock()
		})
	}
	pool.wait()

	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Binary < summary.Results[j].Binary
	})
	for _, r := range summary.Results {
		if r.Error == "" {
			summary.BinariesOK++
		} else {
			summary.BinariesFailed++
		}
		summary.FunctionsTotal += r.Functions
		summary.FunctionErrors += r.FunctionErrors
	}
	summary.ElapsedSeconds = time.Since(start).Seconds()
	return summary, nil
}

// processBinary handles one binary end to end. Every failure path returns
// a result with Error set and leaves no partial output file behind.
func (o *Orchestrator) processBinary(ctx context.Context, path string) BinaryResult {
	name := filepath.Base(path)
	res := BinaryResult{Binary: name}
	started := time.Now()
	defer func() {
		res.DurationMS = time.Since(started).Milliseconds()
		if o.metrics != nil {
			status := "ok"
			if res.Error != "" {
				status = "failed"
			}
			o.metrics.RecordBinary(status, time.Since(started))
		}
	}()

	digest, err := fileDigest(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	outPath := filepath.Join(o.cfg.OutputDir, outputName(name))

	if o.cache != nil {
		if doc, ok, err := o.cache.Get(ctx, digest); err == nil && ok {
			if err := writeAtomic(outPath, doc); err != nil {
				res.Error = err.Error()
				return res
			}
			res.Output = outPath
			res.Cached = true
			var cached features.Document
			if json.Unmarshal(doc, &cached) == nil {
				res.Functions = cached.Metadata.FunctionCount
				res.FunctionErrors = cached.Metadata.ErrorCount
			}
			o.logger.Info("cache hit", "binary", name, "digest", digest[:12])
			return res
		}
	}

	// The engine invocation is the only I/O-bound stage and the only one
	// under the per-binary deadline.
	engCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout())
	defer cancel()

	raw, err := o.eng.Disassemble(engCtx, path)
	if err != nil {
		o.logger.Warn("binary failed", "binary", name, "err", err)
		res.Error = err.Error()
		return res
	}

	doc := o.builder.BuildBinary(raw, name, digest, o.eng.Name())
	res.Functions = doc.Metadata.FunctionCount
	res.FunctionErrors = doc.Metadata.ErrorCount
	if o.metrics != nil {
		for _, fn := range doc.Functions {
			if fn.Error != "" {
				o.metrics.RecordFunction("failed")
			} else {
				o.metrics.RecordFunction("ok")
			}
			o.metrics.RecordSignatures(fn.CryptoSignatures)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		res.Error = fmt.Sprintf("marshal features: %v", err)
		return res
	}
	data = append(data, '\n')
	if err := writeAtomic(outPath, data); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Output = outPath

	if o.cache != nil {
		if err := o.cache.Put(ctx, digest, data); err != nil {
			// Cache failures never fail the binary.
			o.logger.Warn("cache store failed", "binary", name, "err", err)
		}
	}

	o.logger.Info("binary processed", "binary", name,
		"functions", res.Functions, "errors", res.FunctionErrors)
	return res
}

// discover lists candidate binaries in lexical order. Only regular files
// with a recognized extension qualify.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if binaryExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// outputName maps a binary file name to its output artifact name.
func outputName(binary string) string {
	stem := strings.TrimSuffix(binary, filepath.Ext(binary))
	return stem + "_features.json"
}

// checkCollisions fails fast when two inputs map to the same output file.
func checkCollisions(paths []string) error {
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		out := outputName(filepath.Base(p))
		if first, ok := seen[out]; ok {
			return &NamingCollisionError{Output: out, First: first, Second: filepath.Base(p)}
		}
		seen[out] = filepath.Base(p)
	}
	return nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open binary: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest binary: %w", err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeAtomic writes data to path via a temp file and rename, so a failed
// binary never leaves a partial artifact behind.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".binfeat-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
