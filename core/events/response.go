package events

const (
	// KindResponseSegment identifies streamed assistant response text.
	KindResponseSegment Kind = "response.segment"
	// KindResponseFinished identifies the backend's stop reason for the
	// response stream.
	KindResponseFinished Kind = "response.finished"
)

// ResponseSegment carries one incremental assistant response text delta, in
// emission order.
type ResponseSegment struct {
	Base
	Segment string
}

// NewResponseSegment creates a response segment event.
func NewResponseSegment(segment string) ResponseSegment {
	return ResponseSegment{Base: NewBase(KindResponseSegment), Segment: segment}
}

// ResponseFinished carries the backend's stop reason ("stop", "length", ...).
// Callers use it to detect truncation. At most one per turn.
type ResponseFinished struct {
	Base
	Reason string
}

// NewResponseFinished creates a response finished event.
func NewResponseFinished(reason string) ResponseFinished {
	return ResponseFinished{Base: NewBase(KindResponseFinished), Reason: reason}
}
