package relay

import (
	"net/http"
	"strings"

	"github.com/blendle/zapdriver"
	"go.uber.org/zap"
)

// traceContext extracts Google Cloud trace fields from the connection's
// upgrade request, so relay logs correlate with load-balancer traces when
// running on GCP. Without a configured GCP project ID it yields nothing.
func (relay *Relay) traceContext(r *http.Request) []zap.Field {
	if relay.gcpProjectID == "" {
		return nil
	}

	// Header format: TRACE_ID/SPAN_ID;o=TRACE_TRUE
	header := r.Header.Get("X-Cloud-Trace-Context")
	if header == "" {
		return nil
	}

	traceID, rest, found := strings.Cut(header, "/")
	if !found || traceID == "" {
		return nil
	}

	spanID, options, _ := strings.Cut(rest, ";")
	sampled := options == "o=1"

	return zapdriver.TraceContext(traceID, spanID, sampled, relay.gcpProjectID)
}
