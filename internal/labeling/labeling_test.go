package labeling

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"binfeat/internal/detectors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	registry, err := detectors.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewEngine(registry)
}

func TestLabelStages(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		fn   string
		scan map[string]int
		want string
	}{
		{
			name: "name match wins outright",
			fn:   "AES_Encrypt",
			scan: map[string]int{},
			want: "AES-128",
		},
		{
			// Stage 1 short-circuits: the signature never gets a say.
			name: "name match beats conflicting signature",
			fn:   "AES_Encrypt",
			scan: map[string]int{"has_sha256_k": 1},
			want: "AES-128",
		},
		{
			name: "stripped name falls through to signature",
			fn:   "sub_401000",
			scan: map[string]int{"has_sha256_k": 1},
			want: "SHA-256",
		},
		{
			name: "neither stage fires",
			fn:   "sub_401000",
			scan: map[string]int{},
			want: DefaultLabel,
		},
		{
			name: "case insensitive name match",
			fn:   "Sha256_Transform",
			scan: map[string]int{},
			want: "SHA-256",
		},
		{
			name: "substring match inside larger name",
			fn:   "my_blowfish_setkey_impl",
			scan: map[string]int{},
			want: "Blowfish",
		},
		{
			name: "signature priority order decides",
			fn:   "sub_402000",
			scan: map[string]int{"has_crc32_table": 1, "has_aes_inv_sbox": 1},
			want: "AES-128",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Label(tt.fn, tt.scan); got != tt.want {
				t.Errorf("Label(%q) = %q, want %q", tt.fn, got, tt.want)
			}
		})
	}
}

func TestLabelDeterministic(t *testing.T) {
	e := newTestEngine(t)
	scan := map[string]int{"has_md5_t": 3}
	first := e.Label("helper", scan)
	for i := 0; i < 100; i++ {
		if got := e.Label("helper", scan); got != first {
			t.Fatalf("iteration %d: Label() = %q, want %q", i, got, first)
		}
	}
}

func TestLoadRules(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
- pattern: encrypt_block
  match: exact
  label: BlockCipher
- pattern: keccak
  match: substring
  label: SHA-3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadRules(path); err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	tests := []struct {
		fn   string
		want string
	}{
		{"encrypt_block", "BlockCipher"},
		{"my_encrypt_block", DefaultLabel}, // exact rule, not substring
		{"do_keccak_f1600", "SHA-3"},
		{"AES_Encrypt", DefaultLabel}, // defaults are replaced, not merged
	}
	for _, tt := range tests {
		if got := e.Label(tt.fn, map[string]int{}); got != tt.want {
			t.Errorf("Label(%q) = %q, want %q", tt.fn, got, tt.want)
		}
	}
}

func TestLoadRulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", ":{bad"},
		{"empty pattern", "- pattern: \"\"\n  match: exact\n  label: X\n"},
		{"empty label", "- pattern: x\n  match: exact\n  label: \"\"\n"},
		{"unknown match kind", "- pattern: x\n  match: regex\n  label: X\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			path := filepath.Join(t.TempDir(), "rules.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			err := e.LoadRules(path)
			var loadErr *RuleLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("LoadRules() error = %v, want *RuleLoadError", err)
			}
			// A failed load must leave the previous rules untouched.
			if got := e.Label("AES_Encrypt", map[string]int{}); got != "AES-128" {
				t.Errorf("rules mutated by failed load: Label = %q", got)
			}
		})
	}
}

func TestDemangle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain C symbol", "aes_encrypt", "aes_encrypt"},
		{"underscore only", "_start", "_start"},
		{"mangled function", "_Z7encryptPhS_", "encrypt(unsigned char*, unsigned char*)"},
		{"mangled method", "_ZN6Cipher7encryptEv", "Cipher::encrypt()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Demangle(tt.in); got != tt.want {
				t.Errorf("Demangle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
	// Cached second call returns the same result.
	if a, b := Demangle("_ZN6Cipher7encryptEv"), Demangle("_ZN6Cipher7encryptEv"); a != b {
		t.Errorf("cache returned differing results: %q vs %q", a, b)
	}
}
