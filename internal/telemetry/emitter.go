// Package telemetry defines auth event emission and the gateway's metric
// instruments. Events and metrics are best-effort: they never fail a request.
package telemetry

import (
	"context"
	"log"
	"time"
)

// AuthEvent is one auth operation outcome recorded for operators: who tried
// what, from where, and how it ended.
type AuthEvent struct {
	// EventType is one of login, refresh, claims, logout.
	EventType string
	// Result is success, fail, or error.
	Result string
	// SessionID is set when the operation resolved a session.
	SessionID string
	ClientIP  string
	UserAgent string
	// Detail carries the operator-facing diagnostic (e.g. store fault text).
	Detail    string
	CreatedAt time.Time
}

// EventEmitter emits auth events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *AuthEvent) error
}

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server drains before
// shutting down OTel providers, so in-flight async emits have time to complete.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Use from request handlers for fire-and-forget, best-effort telemetry; errors are logged.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a goroutine.
// The goroutine uses context.Background() with emitTimeout so request cancellation does not abort in-flight emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *AuthEvent) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}
