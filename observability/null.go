package observability

import "context"

// NullEmitter discards every event. It is the Registry default so that
// observability is opt-in and costs nothing when unused.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (*NullEmitter) Emit(Event) {}

func (*NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (*NullEmitter) Flush(context.Context) error { return nil }
