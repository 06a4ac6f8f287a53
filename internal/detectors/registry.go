package detectors

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"binfeat/internal/disasm"
)

// LoadError reports a signature definition that failed to load or validate.
// Callers treat it as fatal: a silently missing signature changes labeling
// semantics for the whole run.
type LoadError struct {
	Signature string
	Reason    string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("signature %q failed to load: %s", e.Signature, e.Reason)
}

// Registry is the read-only set of signature detectors for a run. It is
// built once at startup and safe for concurrent use; the declaration order
// of its detectors is the tie-break order for signature-based labeling.
type Registry struct {
	detectors []Detector
}

// NewRegistry builds the registry of built-in signatures. The declaration
// order below is the documented labeling priority: exact full-table matches
// first, short constants and heuristics last.
func NewRegistry() (*Registry, error) {
	r := &Registry{detectors: []Detector{
		newByteTable("has_aes_sbox", "AES-128", aesSBox[:]),
		newByteTable("has_aes_inv_sbox", "AES-128", aesInvSBox[:]),
		newWordTable("has_sha256_k", "SHA-256", sha256K),
		newWordTable("has_sha1_init", "SHA-1", sha1Init),
		newWordTable("has_md5_t", "MD5", md5T),
		newWordTable("has_blowfish_p", "Blowfish", blowfishP),
		newWordTable("has_crc32_table", "CRC32", crc32Table),
		newWordTable("has_tea_delta", "XXTEA", teaDelta),
		&bignumArith{},
	}}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// fileSignature is one user-supplied signature in a YAML signature file.
type fileSignature struct {
	Name    string `yaml:"name"`
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"` // hex-encoded byte pattern
}

// LoadFile appends signatures from a YAML file to the registry. File
// signatures rank after the built-ins in labeling priority, in file order.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &LoadError{Signature: path, Reason: err.Error()}
	}
	var sigs []fileSignature
	if err := yaml.Unmarshal(data, &sigs); err != nil {
		return &LoadError{Signature: path, Reason: err.Error()}
	}
	for _, s := range sigs {
		if s.Name == "" {
			return &LoadError{Signature: path, Reason: "signature with empty name"}
		}
		pattern, err := hex.DecodeString(s.Pattern)
		if err != nil {
			return &LoadError{Signature: s.Name, Reason: "pattern is not valid hex"}
		}
		if len(pattern) < 4 {
			return &LoadError{Signature: s.Name, Reason: "pattern shorter than 4 bytes"}
		}
		r.detectors = append(r.detectors, newByteTable(s.Name, s.Label, pattern))
	}
	return r.validate()
}

// validate rejects registries that would silently misbehave: duplicate
// names or empty byte patterns.
func (r *Registry) validate() error {
	seen := make(map[string]bool, len(r.detectors))
	for _, d := range r.detectors {
		if seen[d.Name()] {
			return &LoadError{Signature: d.Name(), Reason: "duplicate signature name"}
		}
		seen[d.Name()] = true
		if bt, ok := d.(*byteTable); ok {
			for _, p := range bt.patterns {
				if len(p) == 0 {
					return &LoadError{Signature: d.Name(), Reason: "empty byte pattern"}
				}
			}
		}
	}
	return nil
}

// Detectors returns the registry's detectors in priority order.
func (r *Registry) Detectors() []Detector { return r.detectors }

// Scan runs every detector against the function and returns the match count
// per signature name. All names appear in the result, matched or not, so
// output schemas stay uniform across functions.
func (r *Registry) Scan(fn *disasm.Function) map[string]int {
	out := make(map[string]int, len(r.detectors))
	for _, d := range r.detectors {
		out[d.Name()] = d.Detect(fn)
	}
	return out
}

// LabelFor returns the label of the highest-priority signature that fired,
// consulting a previously computed scan result. The priority order is the
// registry's declaration order, which is fixed and documented.
func (r *Registry) LabelFor(scan map[string]int) (string, bool) {
	for _, d := range r.detectors {
		if d.Label() != "" && scan[d.Name()] > 0 {
			return d.Label(), true
		}
	}
	return "", false
}
