package topology

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for topology operations. Callers match these with
// errors.Is regardless of the wrapping context.
var (
	// ErrNodeNotFound indicates a lookup for a GUID absent from the registry
	ErrNodeNotFound = errors.New("node not found")

	// ErrConnectionNotFound indicates no edge exists at the given endpoint
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrArtifactMissing indicates a required dump artifact was absent or empty
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrMalformedArtifact indicates a dump line that does not match the format
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrBadGUID indicates a GUID token that cannot be canonicalized
	ErrBadGUID = errors.New("invalid guid")

	// ErrDuplicateLink indicates a second, different edge on an occupied port
	ErrDuplicateLink = errors.New("duplicate link on port")

	// ErrPlaneConflict indicates two distinct plane labels for one edge.
	// This is an internal invariant violation and aborts the analysis.
	ErrPlaneConflict = errors.New("conflicting plane assignment")

	// ErrFilterNoMatch indicates a filter term that matched no known node
	ErrFilterNoMatch = errors.New("filter matched no node")

	// ErrRouteNotFound indicates no enabled path exists between two endpoints
	ErrRouteNotFound = errors.New("no route between endpoints")

	// ErrCounterMissing indicates the counter provider had no entry for
	// an endpoint that materialization expected one for
	ErrCounterMissing = errors.New("counter entry missing")
)

// TopoError carries structured context for a failed topology operation:
// which stage, which artifact, and which device the failure belongs to.
type TopoError struct {
	Op       string
	Artifact string
	GUID     string
	Port     int
	Line     int
	Cause    error
}

// Error implements the error interface
func (e *TopoError) Error() string {
	var sb strings.Builder
	sb.WriteString("topology: ")
	sb.WriteString(e.Op)
	if e.Artifact != "" {
		fmt.Fprintf(&sb, " artifact=%s", e.Artifact)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " line=%d", e.Line)
	}
	if e.GUID != "" {
		fmt.Fprintf(&sb, " guid=%s", e.GUID)
	}
	if e.Port > 0 {
		fmt.Fprintf(&sb, " port=%d", e.Port)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains
func (e *TopoError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent API for constructing topology errors
type ErrorBuilder struct {
	err *TopoError
}

// NewError creates an error builder for the given operation
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: &TopoError{Op: op}}
}

// WithArtifact attaches the source artifact name
func (b *ErrorBuilder) WithArtifact(name string) *ErrorBuilder {
	b.err.Artifact = name
	return b
}

// WithGUID attaches the device GUID
func (b *ErrorBuilder) WithGUID(guid string) *ErrorBuilder {
	b.err.GUID = guid
	return b
}

// WithPort attaches the local port number
func (b *ErrorBuilder) WithPort(port int) *ErrorBuilder {
	b.err.Port = port
	return b
}

// WithLine attaches the 1-based artifact line number
func (b *ErrorBuilder) WithLine(line int) *ErrorBuilder {
	b.err.Line = line
	return b
}

// WithCause attaches the underlying error
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed error
func (b *ErrorBuilder) Build() error {
	return b.err
}
