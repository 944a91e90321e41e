package jsonstream

import "fmt"

// LimitKind identifies which structural limit a payload violated.
type LimitKind string

const (
	LimitDepth LimitKind = "depth"
	LimitArray LimitKind = "array"
	LimitSize  LimitKind = "size"
)

// StructureError reports a violated structural limit together with the
// offending value, for debuggability. It is terminal for the request.
type StructureError struct {
	Kind   LimitKind
	Limit  int
	Actual int
}

func (e *StructureError) Error() string {
	switch e.Kind {
	case LimitDepth:
		return fmt.Sprintf("json nesting depth %d exceeds maximum %d", e.Actual, e.Limit)
	case LimitArray:
		return fmt.Sprintf("json array length %d exceeds maximum %d", e.Actual, e.Limit)
	case LimitSize:
		return fmt.Sprintf("json payload size %d bytes exceeds maximum %d", e.Actual, e.Limit)
	default:
		return fmt.Sprintf("json structural limit %q violated (%d > %d)", e.Kind, e.Actual, e.Limit)
	}
}

// MalformedPayloadError reports a payload that cannot be valid JSON: an
// unmatched closing delimiter caught mid-scan, a document that ended
// mid-stream, or a parse failure after the structural scan passed.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("payload is not valid JSON: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}
