package httpapi

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementBackpressureLabels(t *testing.T) {
	for _, reason := range []string{"queue", "wait"} {
		before := testutil.ToFloat64(backpressureTotal.WithLabelValues(reason))
		IncrementBackpressure(reason)
		if got := testutil.ToFloat64(backpressureTotal.WithLabelValues(reason)); got != before+1 {
			t.Fatalf("%s: got %v, want %v", reason, got, before+1)
		}
	}
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("empty reason not counted as unspecified: %v", got)
	}
}

type busyErr struct{}

func (busyErr) Error() string   { return "too busy" }
func (busyErr) StatusCode() int { return http.StatusTooManyRequests }

func TestTooManyRequestsCountsBackpressure(t *testing.T) {
	h := NewMux(&mockService{err: busyErr{}})
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue"))
	rr := do(t, h, http.MethodPost, "/complete", `{"prompt":"hi"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("queue")); got != before+1 {
		t.Fatalf("backpressure = %v, want %v", got, before+1)
	}
}
