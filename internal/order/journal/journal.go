// Package journal defines the flush journal: an append-only audit trail of
// order flushes and status transitions.
//
// Each entry carries the W3C trace and span IDs of the OpenTelemetry span
// active when it was written, so a journal row can be joined directly with
// the distributed trace that produced it. Journaling is best-effort
// observability: a failed write never fails the flush it describes.
package journal

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Action is the kind of event being journaled.
type Action string

const (
	// ActionFlush records a completed flush of the pending change buffer.
	ActionFlush Action = "FLUSH"

	// ActionStatusChange records an applied status transition.
	ActionStatusChange Action = "STATUS_CHANGE"

	// ActionInsert records the first-time materialization of an order.
	ActionInsert Action = "INSERT"
)

// Entry is one journal row.
type Entry struct {
	OrderID int64

	Action Action

	// Detail is a short human-readable summary, e.g. "pending -> publish"
	// or "7 changes".
	Detail string

	// TraceID is the W3C trace ID (32 hex chars), empty when no span was
	// active.
	TraceID string

	// SpanID is the W3C span ID (16 hex chars).
	SpanID string

	RecordedAt time.Time
}

// Recorder persists journal entries. Implementations append; entries are
// immutable once written.
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// NewEntry builds an entry with trace identifiers extracted from the active
// span in ctx, if any.
func NewEntry(ctx context.Context, orderID int64, action Action, detail string) *Entry {
	e := &Entry{
		OrderID:    orderID,
		Action:     action,
		Detail:     detail,
		RecordedAt: time.Now().UTC(),
	}

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		e.TraceID = sc.TraceID().String()
		e.SpanID = sc.SpanID().String()
	}
	return e
}
