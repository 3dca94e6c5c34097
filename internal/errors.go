package internal

import (
	"errors"
	"fmt"
)

type FetchErrorKind uint8

const (
	FetchErrorNetwork FetchErrorKind = iota
	FetchErrorTimeout
	FetchErrorBlocked
	FetchErrorHTTPStatus
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchErrorNetwork:
		return "network"
	case FetchErrorTimeout:
		return "timeout"
	case FetchErrorBlocked:
		return "blocked_by_anti_bot"
	case FetchErrorHTTPStatus:
		return "http_status"
	}
	return fmt.Sprintf("FetchErrorKind(%d)", uint8(k))
}

// FetchError describes why a single page could not be obtained.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int // only set for FetchErrorHTTPStatus and blocked responses
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchErrorKindOf returns the kind of the first FetchError in err's chain.
func FetchErrorKindOf(err error) (FetchErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// DeliveryError wraps a failure to send a notification.
type DeliveryError struct {
	Notifier string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver via %s: %v", e.Notifier, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
