// In file: internal/apperrors/errors.go

// Package apperrors defines the error taxonomy shared by the tool registry,
// the action executors and the conversation orchestrator.
//
// Every error type reports a Kind. Executor failures are converted into
// structured tool results keyed by that Kind, so the reasoning backend can
// decide what to do next; orchestrator-level failures abort the turn.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of an error.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindUnknownTool            Kind = "unknown_tool"
	KindDuplicateTool          Kind = "duplicate_tool"
	KindExternalService        Kind = "external_service_error"
	KindConcurrentModification Kind = "concurrent_modification"
	KindInsufficientData       Kind = "insufficient_data"
	KindClusterUnreachable     Kind = "cluster_unreachable"
	KindInstallationFailed     Kind = "installation_failed"
	KindToolLoopExceeded       Kind = "tool_loop_exceeded"
	KindProtocol               Kind = "protocol_error"
	KindExecution              Kind = "execution_error"
)

// Kinded is implemented by every error in this package.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the Kind of the first Kinded error in err's chain,
// or KindExecution when none is found.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindExecution
}

// ValidationError reports tool arguments that do not satisfy the tool's schema.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: field %q %s", e.Tool, e.Field, e.Reason)
}

func (e *ValidationError) Kind() Kind { return KindValidation }

// UnknownToolError is returned when a name is not present in the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }
func (e *UnknownToolError) Kind() Kind    { return KindUnknownTool }

// DuplicateToolError is returned when a name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string { return fmt.Sprintf("tool %q already registered", e.Name) }
func (e *DuplicateToolError) Kind() Kind    { return KindDuplicateTool }

// ExternalServiceError wraps a failed call to a collaborator such as the
// source-control API, the cluster control plane or the metrics backend.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
func (e *ExternalServiceError) Kind() Kind    { return KindExternalService }

// Transient reports whether a retry may succeed. Client errors (4xx other
// than 408 and 429) are permanent.
func (e *ExternalServiceError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// ConcurrentModificationError reports that a compare-and-swap lost a race.
// It is surfaced to the caller and never retried internally.
type ConcurrentModificationError struct {
	Ref      string
	Expected string
	Actual   string
}

func (e *ConcurrentModificationError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("ref %s moved since %s was read", e.Ref, short(e.Expected))
	}
	return fmt.Sprintf("ref %s moved: expected %s, found %s", e.Ref, short(e.Expected), short(e.Actual))
}

func (e *ConcurrentModificationError) Kind() Kind { return KindConcurrentModification }

// InsufficientDataError reports a metrics window that cannot be scored.
type InsufficientDataError struct {
	Window string
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data in %s window: %s", e.Window, e.Reason)
}

func (e *InsufficientDataError) Kind() Kind { return KindInsufficientData }

// ClusterUnreachableError means the cluster API could not be contacted,
// so nothing was installed.
type ClusterUnreachableError struct {
	Cluster  string
	Endpoint string
	Err      error
}

func (e *ClusterUnreachableError) Error() string {
	return fmt.Sprintf("cluster %s unreachable at %s: %v", e.Cluster, e.Endpoint, e.Err)
}

func (e *ClusterUnreachableError) Unwrap() error { return e.Err }
func (e *ClusterUnreachableError) Kind() Kind    { return KindClusterUnreachable }

// InstallationFailedError means the cluster was reachable but the install did not complete.
type InstallationFailedError struct {
	Cluster string
	Release string
	Output  string
	Err     error
}

func (e *InstallationFailedError) Error() string {
	msg := fmt.Sprintf("installing %s on %s failed: %v", e.Release, e.Cluster, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *InstallationFailedError) Unwrap() error { return e.Err }
func (e *InstallationFailedError) Kind() Kind    { return KindInstallationFailed }

// ToolLoopExceededError aborts a turn whose backend kept requesting tools
// past the configured round ceiling.
type ToolLoopExceededError struct {
	Rounds int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("unable to complete request: tool loop exceeded %d rounds", e.Rounds)
}

func (e *ToolLoopExceededError) Kind() Kind { return KindToolLoopExceeded }

// ProtocolError reports malformed backend output or a broken request/result pairing.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol violation: " + e.Reason }
func (e *ProtocolError) Kind() Kind    { return KindProtocol }

// IsTransient reports whether err is an ExternalServiceError worth retrying.
func IsTransient(err error) bool {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return ext.Transient()
	}
	return false
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
