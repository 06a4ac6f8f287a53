// Package labeling assigns a semantic label to each function through three
// ordered, short-circuiting stages: name match, signature match, default.
// Classification is a pure function of (name, signature scan); identical
// inputs always produce identical labels.
package labeling

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"binfeat/internal/detectors"
)

// DefaultLabel is assigned when neither the name nor any signature matched.
const DefaultLabel = "Unknown"

// MatchKind selects the matching semantics of a name rule. Every rule
// declares its kind explicitly; matching is always case-insensitive.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
)

// NameRule maps a function-name pattern to a label. Rules are evaluated in
// declaration order; the first match wins.
type NameRule struct {
	Pattern string    `yaml:"pattern"`
	Match   MatchKind `yaml:"match"`
	Label   string    `yaml:"label"`
}

// RuleLoadError reports a label-rule table that failed to load. It is fatal
// to the run, since ignoring it would change labeling semantics silently.
type RuleLoadError struct {
	Path   string
	Reason string
}

func (e *RuleLoadError) Error() string {
	return fmt.Sprintf("label rules %q failed to load: %s", e.Path, e.Reason)
}

// Engine is the read-only labeling state for a run, shared across workers.
type Engine struct {
	rules    []NameRule
	registry *detectors.Registry
}

// defaultRules is the built-in name-to-label table, highest priority first.
// Demangled names are matched, so C++ method names work too.
var defaultRules = []NameRule{
	{Pattern: "aes", Match: MatchSubstring, Label: "AES-128"},
	{Pattern: "rijndael", Match: MatchSubstring, Label: "AES-128"},
	{Pattern: "sha256", Match: MatchSubstring, Label: "SHA-256"},
	{Pattern: "sha_256", Match: MatchSubstring, Label: "SHA-256"},
	{Pattern: "sha1", Match: MatchSubstring, Label: "SHA-1"},
	{Pattern: "md5", Match: MatchSubstring, Label: "MD5"},
	{Pattern: "rsa", Match: MatchSubstring, Label: "RSA"},
	{Pattern: "bignum", Match: MatchSubstring, Label: "RSA"},
	{Pattern: "blowfish", Match: MatchSubstring, Label: "Blowfish"},
	{Pattern: "xxtea", Match: MatchSubstring, Label: "XXTEA"},
	{Pattern: "chacha", Match: MatchSubstring, Label: "ChaCha20"},
	{Pattern: "salsa20", Match: MatchSubstring, Label: "Salsa20"},
	{Pattern: "curve25519", Match: MatchSubstring, Label: "Curve25519"},
	{Pattern: "hmac", Match: MatchSubstring, Label: "HMAC"},
	{Pattern: "crc32", Match: MatchSubstring, Label: "CRC32"},
}

// NewEngine builds a labeling engine with the built-in rule table.
func NewEngine(registry *detectors.Registry) *Engine {
	return &Engine{rules: defaultRules, registry: registry}
}

// LoadRules replaces the built-in name rules with a YAML table. An invalid
// table is a fatal RuleLoadError; a valid table fully supersedes the
// defaults rather than merging with them.
func (e *Engine) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &RuleLoadError{Path: path, Reason: err.Error()}
	}
	var rules []NameRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return &RuleLoadError{Path: path, Reason: err.Error()}
	}
	for _, r := range rules {
		if r.Pattern == "" || r.Label == "" {
			return &RuleLoadError{Path: path, Reason: "rule with empty pattern or label"}
		}
		switch r.Match {
		case MatchExact, MatchSubstring:
		default:
			return &RuleLoadError{Path: path, Reason: fmt.Sprintf("rule %q: unknown match kind %q", r.Pattern, r.Match)}
		}
	}
	e.rules = rules
	return nil
}

// Rules returns the active name rules in priority order.
func (e *Engine) Rules() []NameRule { return e.rules }

// Label classifies a function. Stage 1 matches the (demangled) name against
// the rule table; stage 2 consults the signature scan in registry priority
// order; stage 3 falls back to DefaultLabel.
func (e *Engine) Label(name string, scan map[string]int) string {
	if label, ok := e.matchName(name); ok {
		return label
	}
	if label, ok := e.registry.LabelFor(scan); ok {
		return label
	}
	return DefaultLabel
}

func (e *Engine) matchName(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, r := range e.rules {
		pat := strings.ToLower(r.Pattern)
		switch r.Match {
		case MatchExact:
			if lower == pat {
				return r.Label, true
			}
		case MatchSubstring:
			if strings.Contains(lower, pat) {
				return r.Label, true
			}
		}
	}
	return "", false
}
