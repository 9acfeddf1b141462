package gatt

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies link-layer failures into the categories the UI
// layer distinguishes.
type FailureKind string

const (
	NoAdapter        FailureKind = "no_adapter"
	ScanCancelled    FailureKind = "scan_cancelled"
	NoMatch          FailureKind = "no_match"
	LinkUnavailable  FailureKind = "link_unavailable"
	ServiceDiscovery FailureKind = "service_discovery_failed"
	NotConnected     FailureKind = "not_connected"
	AlreadyConnected FailureKind = "already_connected"
)

// LinkError is any classified link-layer problem.
type LinkError struct {
	Kind FailureKind
	Msg  string
}

func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare LinkError values by Kind.
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for the failure taxonomy.
var (
	ErrNoAdapter        = &LinkError{Kind: NoAdapter}
	ErrScanCancelled    = &LinkError{Kind: ScanCancelled}
	ErrNoMatch          = &LinkError{Kind: NoMatch}
	ErrLinkUnavailable  = &LinkError{Kind: LinkUnavailable}
	ErrServiceDiscovery = &LinkError{Kind: ServiceDiscovery}
	ErrNotConnected     = &LinkError{Kind: NotConnected}
	ErrAlreadyConnected = &LinkError{Kind: AlreadyConnected}
)

// ErrTimeout is returned by transport operations that exceed their deadline.
var ErrTimeout = errors.New("timeout")

// NormalizeError maps known platform-stack error strings onto the structured
// taxonomy so callers get consistent errors.Is behavior even if an upstream
// library changes its messages. The original error is preserved via wrapping.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "powered off"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "no adapter"),
		strings.Contains(msg, "invalid state"):
		return fmt.Errorf("%w: %v", ErrNoAdapter, err)
	case strings.Contains(msg, "device not connected"),
		strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case strings.Contains(msg, "discover"):
		return fmt.Errorf("%w: %v", ErrServiceDiscovery, err)
	default:
		return err
	}
}

// IsFailure reports whether err is a LinkError with the given kind.
func IsFailure(err error, kind FailureKind) bool {
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return lerr.Kind == kind
	}
	return false
}
