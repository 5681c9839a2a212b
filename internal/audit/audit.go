package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"pharos.id/internal/auth"
	"pharos.id/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so audit
// events can be correlated with access logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes audit events as JSON lines through the shared logger.
// It never fails the caller; marshal errors degrade to an error line.
type LogSink struct{}

var _ auth.AuditSink = LogSink{}

func (LogSink) Publish(ctx context.Context, tenantID, operation string, payload map[string]any) {
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"tenant": tenantID,
		"event":  operation,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if len(payload) > 0 {
		fields := make(map[string]any, len(payload))
		for k, v := range payload {
			fields[k] = v
		}
		entry["fields"] = fields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		obs.Logger().Println(`{"type":"audit","event":"audit.marshal_failed"}`)
		return
	}
	obs.Logger().Println(string(data))
}

// StoreSink appends audit events to the durable audit log. Append errors
// are reported as log lines, never to the caller.
type StoreSink struct {
	Store auth.Store
}

var _ auth.AuditSink = StoreSink{}

func (s StoreSink) Publish(ctx context.Context, tenantID, operation string, payload map[string]any) {
	if s.Store == nil {
		return
	}
	entry := &auth.AuditEntry{
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Operation:  operation,
		Payload:    payload,
	}
	if err := s.Store.Audit(ctx).Append(ctx, entry); err != nil {
		obs.LogEvent("error", "audit append failed", map[string]any{
			"tenant": tenantID,
			"event":  operation,
			"error":  err.Error(),
		})
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []auth.AuditSink

var _ auth.AuditSink = MultiSink{}

func (m MultiSink) Publish(ctx context.Context, tenantID, operation string, payload map[string]any) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(ctx, tenantID, operation, payload)
		}
	}
}
