package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide on retry, exit code
// and remedial guidance without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthenticationRequired
	KindAuthenticationInvalid
	KindResourceMissing
	KindTransientPlatform
	KindPermanentPlatform
	KindHistoryPersistence
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication required"
	case KindAuthenticationInvalid:
		return "authentication invalid"
	case KindResourceMissing:
		return "resource missing"
	case KindTransientPlatform:
		return "transient platform error"
	case KindPermanentPlatform:
		return "permanent platform error"
	case KindHistoryPersistence:
		return "history persistence error"
	case KindConfiguration:
		return "configuration error"
	default:
		return "unknown error"
	}
}

// Exit code ranges: 10s auth, 20s platform, 30s local config, 40s history.
const (
	ExitOK       = 0
	ExitUnknown  = 1
	ExitAuth     = 10
	ExitPlatform = 20
	ExitConfig   = 30
	ExitHistory  = 40
)

type Error struct {
	Kind     Kind
	Platform string
	Message  string
	// Remedy is the exact command that fixes the failure, when one exists.
	Remedy string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Platform != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Platform, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match any *Error with the same Kind, so sentinel
// comparisons like errors.Is(err, errdefs.Transient("", nil)) are not
// needed; use KindOf instead for switching.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func AuthenticationRequired(platform, message string) *Error {
	return &Error{
		Kind:     KindAuthenticationRequired,
		Platform: platform,
		Message:  message,
		Remedy:   fmt.Sprintf("deployx auth setup %s", platform),
	}
}

func AuthenticationInvalid(platform string, cause error) *Error {
	return &Error{
		Kind:     KindAuthenticationInvalid,
		Platform: platform,
		Cause:    cause,
		Remedy:   fmt.Sprintf("deployx auth setup %s", platform),
	}
}

func ResourceMissing(platform, message string) *Error {
	return &Error{Kind: KindResourceMissing, Platform: platform, Message: message}
}

func Transient(platform string, cause error) *Error {
	return &Error{Kind: KindTransientPlatform, Platform: platform, Cause: cause}
}

func Permanent(platform string, cause error) *Error {
	return &Error{Kind: KindPermanentPlatform, Platform: platform, Cause: cause}
}

func Permanentf(platform, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermanentPlatform, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

func HistoryPersistence(cause error) *Error {
	return &Error{Kind: KindHistoryPersistence, Cause: cause}
}

func Configuration(message string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Cause: cause}
}

// KindOf returns the classification of err, or KindUnknown for errors
// that did not originate here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransientPlatform
}

// ExitCode maps an error to the process exit code range for its kind.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindAuthenticationRequired:
		return ExitAuth
	case KindAuthenticationInvalid:
		return ExitAuth + 1
	case KindResourceMissing:
		return ExitPlatform
	case KindTransientPlatform:
		return ExitPlatform + 1
	case KindPermanentPlatform:
		return ExitPlatform + 2
	case KindHistoryPersistence:
		return ExitHistory
	case KindConfiguration:
		return ExitConfig
	default:
		return ExitUnknown
	}
}

// Remedy returns the remedial command attached to err, if any.
func Remedy(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Remedy
	}
	return ""
}
