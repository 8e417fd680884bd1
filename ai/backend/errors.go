package backend

import (
	"errors"
	"fmt"
)

var (
	ErrTextProcessingFailed   = errors.New("text processing failed")
	ErrImageProcessingFailed  = errors.New("image processing failed")
	ErrAudioProcessingFailed  = errors.New("audio processing failed")
	ErrNetworkUnavailable     = errors.New("network unavailable")
	ErrInsufficientConfidence = errors.New("insufficient confidence")
	ErrProcessingTimeout      = errors.New("processing timed out")

	// ErrUnsupported is returned by adapters that cannot serve a task kind at all.
	ErrUnsupported = errors.New("task not supported by backend")
)

// FailureKind returns the processing-failed sentinel for k.
func (k TaskKind) FailureKind() error {
	switch k {
	case TaskImage:
		return ErrImageProcessingFailed
	case TaskAudio:
		return ErrAudioProcessingFailed
	default:
		return ErrTextProcessingFailed
	}
}

// ProcessingError is the typed error returned by adapters and the router.
// errors.Is matches both Kind and the wrapped cause.
type ProcessingError struct {
	Kind   error
	Task   TaskKind
	Source Source
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Source, e.Task, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Task, e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fail wraps cause as a ProcessingError for task on source. Causes that already carry a
// ProcessingError are returned unchanged, as are network and timeout errors, whose kind
// takes precedence over the task failure kind.
func Fail(task TaskKind, source Source, cause error) error {
	var pe *ProcessingError
	if errors.As(cause, &pe) {
		return cause
	}
	kind := task.FailureKind()
	switch {
	case errors.Is(cause, ErrNetworkUnavailable):
		kind = ErrNetworkUnavailable
	case errors.Is(cause, ErrProcessingTimeout):
		kind = ErrProcessingTimeout
	}
	if cause == kind {
		cause = nil
	}
	return &ProcessingError{Kind: kind, Task: task, Source: source, Err: cause}
}

// IsNetworkUnavailable reports whether err signals missing connectivity.
func IsNetworkUnavailable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable)
}
