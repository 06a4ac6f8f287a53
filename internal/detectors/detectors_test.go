package detectors

import (
	"encoding/binary"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binfeat/internal/disasm"
)

// embed wraps a pattern with unrelated padding on both sides.
func embed(pattern []byte) []byte {
	out := make([]byte, 0, len(pattern)+32)
	out = append(out, []byte("\x55\x48\x89\xe5prologue")...)
	out = append(out, pattern...)
	out = append(out, []byte("epilogue\x5d\xc3")...)
	return out
}

func TestByteTableDetect(t *testing.T) {
	d := newByteTable("has_magic", "Magic", []byte{0xde, 0xad, 0xbe, 0xef})

	assert.Equal(t, 0, d.Detect(&disasm.Function{Bytes: []byte("nothing here")}))
	assert.Equal(t, 1, d.Detect(&disasm.Function{Bytes: embed([]byte{0xde, 0xad, 0xbe, 0xef})}))

	two := append(embed([]byte{0xde, 0xad, 0xbe, 0xef}), 0xde, 0xad, 0xbe, 0xef)
	assert.Equal(t, 2, d.Detect(&disasm.Function{Bytes: two}))
}

func TestWordTableBothEndiannesses(t *testing.T) {
	words := []uint32{0x428a2f98, 0x71374491}
	d := newWordTable("has_words", "W", words)

	le := make([]byte, 0, 8)
	be := make([]byte, 0, 8)
	for _, w := range words {
		le = binary.LittleEndian.AppendUint32(le, w)
		be = binary.BigEndian.AppendUint32(be, w)
	}

	assert.Equal(t, 1, d.Detect(&disasm.Function{Bytes: embed(le)}), "little-endian rendering")
	assert.Equal(t, 1, d.Detect(&disasm.Function{Bytes: embed(be)}), "big-endian rendering")
	assert.Equal(t, 0, d.Detect(&disasm.Function{Bytes: embed(le[:7])}), "truncated table")
}

func TestBuiltinTablesDetectThemselves(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	le := make([]byte, 0, len(sha256K)*4)
	for _, w := range sha256K {
		le = binary.LittleEndian.AppendUint32(le, w)
	}
	fn := &disasm.Function{Bytes: embed(append(aesSBox[:], le...))}

	scan := r.Scan(fn)
	assert.Equal(t, 1, scan["has_aes_sbox"])
	assert.Equal(t, 1, scan["has_sha256_k"])
	assert.Equal(t, 0, scan["has_aes_inv_sbox"])
	assert.Equal(t, 0, scan["has_md5_t"])
}

func TestBignumArith(t *testing.T) {
	mk := func(total, mulAdc int) *disasm.Function {
		fn := &disasm.Function{}
		for i := 0; i < mulAdc; i++ {
			m := "mul"
			if i%2 == 1 {
				m = "adc"
			}
			fn.Insts = append(fn.Insts, disasm.Inst{Mnemonic: m})
		}
		for len(fn.Insts) < total {
			fn.Insts = append(fn.Insts, disasm.Inst{Mnemonic: "mov"})
		}
		return fn
	}
	d := &bignumArith{}

	tests := []struct {
		name   string
		fn     *disasm.Function
		detect bool
	}{
		{"below instruction floor", mk(10, 10), false},
		{"below ratio", mk(100, 5), false},
		{"dense carry chains", mk(100, 40), true},
		{"exactly at floor with full density", mk(16, 16), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.fn)
			if tt.detect {
				assert.Positive(t, got)
			} else {
				assert.Zero(t, got)
			}
		})
	}
}

func TestDetectorsAreMonotone(t *testing.T) {
	// Appending bytes never decreases a byte-table match count.
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	d := newByteTable("has_magic", "Magic", []byte{0xca, 0xfe, 0xba, 0xbe})

	properties.Property("match count grows monotonically under append", prop.ForAll(
		func(prefix, suffix []byte) bool {
			base := d.Detect(&disasm.Function{Bytes: prefix})
			joined := append(append([]byte{}, prefix...), suffix...)
			return d.Detect(&disasm.Function{Bytes: joined}) >= base
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
