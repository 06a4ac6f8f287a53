package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBinary(t *testing.T) {
	r := NewRegistry()
	r.RecordBinary("ok", 2*time.Second)
	r.RecordBinary("ok", time.Second)
	r.RecordBinary("failed", time.Second)

	if got := testutil.ToFloat64(r.BinariesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("binaries ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.BinariesTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("binaries failed = %v, want 1", got)
	}
}

func TestRecordSignatures(t *testing.T) {
	r := NewRegistry()
	r.RecordSignatures(map[string]int{
		"has_aes_sbox":    2,
		"has_sha256_k":    0,
		"has_crc32_table": 1,
	})

	if got := testutil.ToFloat64(r.SignatureMatches.WithLabelValues("has_aes_sbox")); got != 2 {
		t.Errorf("aes matches = %v, want 2", got)
	}
	// Zero counts never materialize a series.
	if n := testutil.CollectAndCount(r.SignatureMatches); n != 2 {
		t.Errorf("signature series = %d, want 2", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.RecordFunction("ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "binfeat_functions_total") {
		t.Error("exposition is missing binfeat_functions_total")
	}
}
