package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/orderledger/internal/platform/requestctx"
)

// CloudTraceHeader is the Google Cloud load balancer trace header.
const CloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/hanko-field/orderledger/internal/platform/observability")

// Trace continues an incoming X-Cloud-Trace-Context, opens a server span and echoes the header.
func Trace(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := ParseCloudTrace(r.Header.Get(CloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("user_agent.original", r.UserAgent()),
				),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if sc.IsValid() {
				w.Header().Set(CloudTraceHeader, FormatCloudTrace(info))
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

// ParseCloudTrace decodes "TRACE_ID/SPAN_ID;o=OPTIONS". The span id is decimal on the wire, but
// some proxies forward it as hex, so both are accepted.
func ParseCloudTrace(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func parseSpanID(value string) (trace.SpanID, bool) {
	if value == "" {
		return trace.SpanID{}, false
	}
	if n, err := strconv.ParseUint(value, 10, 64); err == nil && n != 0 {
		var id trace.SpanID
		binary.BigEndian.PutUint64(id[:], n)
		return id, true
	}
	if len(value) <= 16 {
		id, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value)
		if err == nil && id.IsValid() {
			return id, true
		}
	}
	return trace.SpanID{}, false
}

// FormatCloudTrace renders info in the X-Cloud-Trace-Context layout with a decimal span id.
func FormatCloudTrace(info requestctx.TraceInfo) string {
	spanID, err := trace.SpanIDFromHex(info.SpanID)
	if err != nil || info.TraceID == "" {
		return ""
	}
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", info.TraceID, binary.BigEndian.Uint64(spanID[:]), sampled)
}
