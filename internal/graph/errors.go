package graph

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrLinkNotFound        = errors.New("link not found")
	ErrInvalidKind         = errors.New("invalid artifact kind")
	ErrMissingFramework    = errors.New("framework id required")
	ErrFrameworkForbidden  = errors.New("framework id not allowed")
	ErrFrameworkConflict   = errors.New("artifact exists under another framework")
	ErrInvalidKindPair     = errors.New("link type not allowed between artifact kinds")
	ErrInvalidArtifactKind = errors.New("artifact has the wrong kind")
	ErrInvalidLinkType     = errors.New("invalid link type")
	ErrInvalidLifecycle    = errors.New("invalid lifecycle transition")
	ErrInvalidCoverage     = errors.New("invalid coverage level")
	ErrInvalidAttachment   = errors.New("invalid evidence attachment")
	ErrCycleDetected       = errors.New("link would create a cycle")
	ErrAlreadyRetired      = errors.New("already retired")
	ErrStaleWriteConflict  = errors.New("graph version changed")
)

// Error is a typed failure from a graph command.
type Error struct {
	Op  string // command name, e.g. "create_link"
	ID  string // offending artifact or link id, if any
	Err error  // one of the sentinels above
	Msg string
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Err.Error()
	if e.ID != "" {
		s += " (" + e.ID + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a typed error.
func Errf(op string, sentinel error, id string, format string, args ...any) *Error {
	return &Error{Op: op, ID: id, Err: sentinel, Msg: fmt.Sprintf(format, args...)}
}

// Code returns a stable machine-readable code for err, or "internal".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrLinkNotFound):
		return "link_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidKind):
		return "invalid_kind"
	case errors.Is(err, ErrMissingFramework):
		return "missing_framework"
	case errors.Is(err, ErrFrameworkForbidden):
		return "framework_forbidden"
	case errors.Is(err, ErrFrameworkConflict):
		return "framework_conflict"
	case errors.Is(err, ErrInvalidKindPair):
		return "invalid_kind_pair"
	case errors.Is(err, ErrInvalidArtifactKind):
		return "invalid_artifact_kind"
	case errors.Is(err, ErrInvalidLinkType):
		return "invalid_link_type"
	case errors.Is(err, ErrInvalidLifecycle):
		return "invalid_lifecycle"
	case errors.Is(err, ErrInvalidCoverage):
		return "invalid_coverage"
	case errors.Is(err, ErrInvalidAttachment):
		return "invalid_attachment"
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrAlreadyRetired):
		return "already_retired"
	case errors.Is(err, ErrStaleWriteConflict):
		return "stale_write_conflict"
	}
	return "internal"
}
