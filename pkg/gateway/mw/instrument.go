package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/voicelane/voicelane/pkg/gateway/metrics"
)

// Instrument records per-request counters and latency, labeled by path.
func Instrument(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		m.RecordRequest(r.URL.Path, strconv.Itoa(sw.status), time.Since(start))
	})
}
