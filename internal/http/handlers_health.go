package httpx

import (
	"io"
	"net/http"
)

// healthHandler answers liveness probes. The body is static; the process
// serving it is the signal.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}
