package converter

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidURL is returned when the URL is missing or not a video URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrDurationExceeded is returned when the media is longer than allowed.
	ErrDurationExceeded = errors.New("duration exceeds limit")

	// ErrNotFound is wrapped by resolvers when the media does not exist or is
	// unavailable.
	ErrNotFound = errors.New("media not found")

	// ErrUpstreamBlocked is wrapped by resolvers when the platform refuses to
	// serve the request (bot checks, 403/410/429 responses).
	ErrUpstreamBlocked = errors.New("upstream blocked the request")

	// ErrNoAudioFormat is returned by SelectStream when no candidate carries
	// usable audio.
	ErrNoAudioFormat = errors.New("no audio format found")

	// ErrNoSource is returned when a descriptor has no way to open its stream.
	ErrNoSource = errors.New("stream descriptor has no source")

	// ErrEmptyOutput is returned when the transcoder exits without output.
	ErrEmptyOutput = errors.New("transcoder produced no output")

	// ErrResponseStarted marks failures that happened after response headers
	// were written. Such errors cannot change the status code.
	ErrResponseStarted = errors.New("response already started")
)

// Kind classifies pipeline failures for the HTTP layer.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindMethodNotAllowed
	KindUpstreamBlocked
	KindRateLimited
	KindResolution
	KindNoAudioFormat
	KindTranscode
	KindStreaming
)

// Status returns the HTTP status code for k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUpstreamBlocked:
		return http.StatusGone
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindUpstreamBlocked:
		return "upstream_blocked"
	case KindRateLimited:
		return "rate_limited"
	case KindResolution:
		return "resolution"
	case KindNoAudioFormat:
		return "no_audio_format"
	case KindTranscode:
		return "transcode"
	case KindStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Error is a failure at a pipeline stage. Message is safe to show clients;
// Err carries the cause for logs and the details field.
type Error struct {
	Kind    Kind
	Stage   State
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error.
func (e *Error) Status() int { return e.Kind.Status() }

// Details returns the cause text reported in the details field.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func newError(kind Kind, stage State, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: msg, Err: err}
}

// afterStart marks err as having happened once bytes were on the wire.
func afterStart(err error) error {
	return fmt.Errorf("%w: %w", ErrResponseStarted, err)
}
