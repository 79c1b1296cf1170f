package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a SniffingError.
type Kind int

const (
	KindUnknown Kind = iota
	KindInterfaceNotFound
	KindStartSniffingWithoutInterfaceSelection
	KindGetPacketsIndexNotValid
	KindUnhandledChannelType
	KindFailedChannelCreation
	KindStopSniffingWithoutPriorStart
	KindReportGenerationFailed
	KindReadingChannelFailed
	KindUnknownFilterType
)

func (k Kind) String() string {
	switch k {
	case KindInterfaceNotFound:
		return "InterfaceNotFound"
	case KindStartSniffingWithoutInterfaceSelection:
		return "StartSniffingWithoutInterfaceSelection"
	case KindGetPacketsIndexNotValid:
		return "GetPacketsIndexNotValid"
	case KindUnhandledChannelType:
		return "UnhandledChannelType"
	case KindFailedChannelCreation:
		return "FailedChannelCreation"
	case KindStopSniffingWithoutPriorStart:
		return "StopSniffingWithoutPriorStart"
	case KindReportGenerationFailed:
		return "ReportGenerationFailed"
	case KindReadingChannelFailed:
		return "ReadingChannelFailed"
	case KindUnknownFilterType:
		return "UnknownFilterType"
	default:
		return "Unknown"
	}
}

// SniffingError is returned by every engine operation that fails.
type SniffingError struct {
	Kind       Kind
	Message    string
	Underlying error
}

func (e *SniffingError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *SniffingError) Unwrap() error {
	return e.Underlying
}

// MarshalJSON encodes the error as {"type", "description"}.
func (e *SniffingError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}{e.Kind.String(), e.Error()})
}

func newError(kind Kind, format string, args ...any) error {
	return &SniffingError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(err error, kind Kind, format string, args ...any) error {
	return &SniffingError{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not a
// SniffingError.
func KindOf(err error) Kind {
	var e *SniffingError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
