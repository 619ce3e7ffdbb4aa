//go:build !swagger

package httpapi

import (
	"net/http"
	"testing"
)

func TestSwaggerAbsentWithoutTag(t *testing.T) {
	rr := do(t, NewMux(&mockService{}), http.MethodGet, "/swagger/index.html", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
