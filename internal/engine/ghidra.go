package engine

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"

	"binfeat/internal/disasm"
)

// exportScript is the headless post-script that walks every function and
// writes the JSON consumed below. It ships alongside the binary.
const exportScript = "ExportFunctionFeatures.py"

// Ghidra drives a Ghidra headless installation as the disassembly engine.
// One invocation per binary; the per-binary timeout arrives via the context.
type Ghidra struct {
	home      string // GHIDRA_HOME
	scriptDir string
	logger    *log.Logger
}

// NewGhidra validates the installation under home and returns the backend.
func NewGhidra(home, scriptDir string, logger *log.Logger) (*Ghidra, error) {
	headless := headlessPath(home)
	if _, err := os.Stat(headless); err != nil {
		return nil, fmt.Errorf("no headless entry point at %s: %w", headless, err)
	}
	return &Ghidra{home: home, scriptDir: scriptDir, logger: logger}, nil
}

func (g *Ghidra) Name() string { return "ghidra" }

func headlessPath(home string) string {
	return filepath.Join(home, "support", "analyzeHeadless")
}

func (g *Ghidra) Disassemble(ctx context.Context, path string) (*disasm.RawBinary, error) {
	workDir, err := os.MkdirTemp("", "binfeat-ghidra-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	outPath := filepath.Join(workDir, "functions.json")
	logPath := filepath.Join(workDir, "engine.log")

	cmd := exec.CommandContext(ctx, headlessPath(g.home),
		workDir, "binfeat",
		"-import", path,
		"-postScript", exportScript, outPath,
		"-scriptPath", g.scriptDir,
		"-log", logPath,
		"-deleteProject",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stopTail := g.followLog(logPath)
	defer stopTail()

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", path, ErrTimeout)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &CrashError{Path: path, ExitCode: exitCode, Stderr: truncate(stderr.String(), 512)}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &CrashError{Path: path, ExitCode: 0, Stderr: "engine produced no output artifact"}
	}
	return parseExport(path, data)
}

// followLog streams the engine's log file at debug level while the process
// runs. Best-effort: a missing log never fails the binary.
func (g *Ghidra) followLog(logPath string) (stop func()) {
	if g.logger == nil || g.logger.GetLevel() > log.DebugLevel {
		return func() {}
	}
	t, err := tail.TailFile(logPath, tail.Config{
		Follow: true,
		ReOpen: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		return func() {}
	}
	go func() {
		for line := range t.Lines {
			if line.Err == nil {
				g.logger.Debug("engine", "line", line.Text)
			}
		}
	}()
	return func() { t.Stop() }
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Wire format produced by the export post-script. Addresses are hex strings
// with or without a 0x prefix; byte spans are hex-encoded.
type exportDoc struct {
	Arch      string       `json:"arch"`
	Functions []exportFunc `json:"functions"`
}

type exportFunc struct {
	Name     string         `json:"name"`
	Addr     string         `json:"addr"`
	Bytes    string         `json:"bytes"`
	Insts    []exportInst   `json:"instructions"`
	Blocks   []exportBlock  `json:"blocks"`
	Edges    []exportEdge   `json:"edges"`
	MicroOps map[string]int `json:"micro_ops,omitempty"`
}

type exportInst struct {
	Addr     string   `json:"addr"`
	Mnemonic string   `json:"mnemonic"`
	Operands []string `json:"operands"`
	Len      int      `json:"len"`
}

type exportBlock struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type exportEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

func parseExport(path string, data []byte) (*disasm.RawBinary, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("malformed engine output: %v", err)}
	}

	raw := &disasm.RawBinary{Path: path, Arch: doc.Arch}
	for _, f := range doc.Functions {
		addr, err := parseAddr(f.Addr)
		if err != nil {
			return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("function %q: bad address %q", f.Name, f.Addr)}
		}
		rf := disasm.RawFunction{
			Name:     f.Name,
			Addr:     addr,
			MicroOps: f.MicroOps,
		}
		if f.Bytes != "" {
			if rf.Bytes, err = hex.DecodeString(f.Bytes); err != nil {
				return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("function %q: bad byte span", f.Name)}
			}
		}
		for _, in := range f.Insts {
			ia, err := parseAddr(in.Addr)
			if err != nil {
				return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("function %q: bad instruction address %q", f.Name, in.Addr)}
			}
			rf.Insts = append(rf.Insts, disasm.Inst{
				Addr:     ia,
				Mnemonic: strings.ToLower(in.Mnemonic),
				Operands: in.Operands,
				Len:      in.Len,
			})
		}
		for _, b := range f.Blocks {
			start, err1 := parseAddr(b.Start)
			end, err2 := parseAddr(b.End)
			if err1 != nil || err2 != nil {
				return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("function %q: bad block span", f.Name)}
			}
			rf.Blocks = append(rf.Blocks, disasm.RawBlock{Start: start, End: end})
		}
		for _, e := range f.Edges {
			from, err1 := parseAddr(e.From)
			to, err2 := parseAddr(e.To)
			if err1 != nil || err2 != nil {
				return nil, &CrashError{Path: path, ExitCode: 0, Stderr: fmt.Sprintf("function %q: bad edge", f.Name)}
			}
			rf.Edges = append(rf.Edges, disasm.RawEdge{From: from, To: to, Kind: e.Kind})
		}
		raw.Functions = append(raw.Functions, rf)
	}
	return raw, nil
}

func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
