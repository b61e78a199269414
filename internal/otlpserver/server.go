// Package otlpserver accepts OTLP/gRPC log exports and feeds them into the
// ingest pipeline. It implements the collector LogsService so OTEL SDKs and
// collectors can point an exporter straight at the engine.
package otlpserver

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	"google.golang.org/grpc"

	"github.com/loglens/loglens/internal/logparse"
	"github.com/loglens/loglens/internal/model"
)

// Ingestor accepts converted entries into the pipeline.
type Ingestor interface {
	Append(ctx context.Context, e *model.LogEntry) (int64, error)
}

// Server is the OTLP/gRPC ingestion endpoint.
type Server struct {
	collogspb.UnimplementedLogsServiceServer

	addr     string
	ingestor Ingestor
	grpc     *grpc.Server
	listener net.Listener
}

// NewServer creates an OTLP server. Default addr is "127.0.0.1:4317".
func NewServer(addr string, ingestor Ingestor) *Server {
	if addr == "" {
		addr = "127.0.0.1:4317"
	}
	return &Server{addr: addr, ingestor: ingestor}
}

// Start begins serving gRPC requests.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.grpc = grpc.NewServer()
	collogspb.RegisterLogsServiceServer(s.grpc, s)

	go func() {
		if err := s.grpc.Serve(listener); err != nil {
			log.Printf("otlpserver: serve: %v", err)
		}
	}()
	return nil
}

// Stop drains in-flight RPCs and shuts the listener down.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Addr returns the active listen address. Before Start, it returns the
// configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Export implements the OTLP LogsService. Records that fail validation are
// counted in the partial-success response rather than failing the export.
func (s *Server) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	var rejected int64
	var lastErr error

	for _, rl := range req.GetResourceLogs() {
		resourceAttrs := keyValuesToMap(rl.GetResource().GetAttributes())
		for _, sl := range rl.GetScopeLogs() {
			for _, rec := range sl.GetLogRecords() {
				entry := entryFromRecord(rec, resourceAttrs)
				if _, err := s.ingestor.Append(ctx, entry); err != nil {
					rejected++
					lastErr = err
				}
			}
		}
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: rejected,
			ErrorMessage:       lastErr.Error(),
		}
	}
	return resp, nil
}

// entryFromRecord converts one OTLP log record, merging resource attributes
// under the record's own.
func entryFromRecord(rec *logspb.LogRecord, resourceAttrs map[string]string) *model.LogEntry {
	attributes := make(map[string]string, len(resourceAttrs))
	for k, v := range resourceAttrs {
		attributes[k] = v
	}
	for k, v := range keyValuesToMap(rec.GetAttributes()) {
		attributes[k] = v
	}
	if traceID := rec.GetTraceId(); len(traceID) > 0 {
		attributes["trace.id"] = hex.EncodeToString(traceID)
	}
	if spanID := rec.GetSpanId(); len(spanID) > 0 {
		attributes["span.id"] = hex.EncodeToString(spanID)
	}

	severity := rec.GetSeverityText()
	if severity == "" {
		severity = SeverityText(rec.GetSeverityNumber())
	}

	ts := recordTimestamp(rec)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &model.LogEntry{
		Timestamp:  ts,
		Level:      logparse.NormalizeSeverity(severity),
		Message:    anyValueString(rec.GetBody()),
		Source:     "otlp",
		Attributes: attributes,
	}
}

// SeverityText maps an OTLP severity number onto its level band.
func SeverityText(n logspb.SeverityNumber) string {
	switch {
	case n >= 1 && n <= 4:
		return "TRACE"
	case n >= 5 && n <= 8:
		return "DEBUG"
	case n >= 9 && n <= 12:
		return "INFO"
	case n >= 13 && n <= 16:
		return "WARN"
	case n >= 17 && n <= 20:
		return "ERROR"
	case n >= 21 && n <= 24:
		return "FATAL"
	default:
		return ""
	}
}

func recordTimestamp(rec *logspb.LogRecord) time.Time {
	if n := rec.GetTimeUnixNano(); n > 0 {
		return time.Unix(0, int64(n)).UTC()
	}
	if n := rec.GetObservedTimeUnixNano(); n > 0 {
		return time.Unix(0, int64(n)).UTC()
	}
	return time.Time{}
}

func keyValuesToMap(kvs []*commonpb.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if kv == nil || kv.GetKey() == "" {
			continue
		}
		if v := anyValueString(kv.GetValue()); v != "" {
			out[kv.GetKey()] = v
		}
	}
	return out
}

func anyValueString(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *commonpb.AnyValue_BytesValue:
		return string(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		parts := make([]string, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			if s := anyValueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case *commonpb.AnyValue_KvlistValue:
		parts := make([]string, 0, len(val.KvlistValue.GetValues()))
		for _, kv := range val.KvlistValue.GetValues() {
			parts = append(parts, fmt.Sprintf("%s=%s", kv.GetKey(), anyValueString(kv.GetValue())))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}
