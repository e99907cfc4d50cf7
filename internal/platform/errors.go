package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies platform call failures so callers can choose between
// retry, cooldown, session refresh, and abort.
type Kind int

const (
	KindUnclassified Kind = iota
	KindRateLimited
	KindSessionExpired
	KindNotFound
	KindRestricted
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindSessionExpired:
		return "session_expired"
	case KindNotFound:
		return "not_found"
	case KindRestricted:
		return "restricted"
	default:
		return "unclassified"
	}
}

// Error wraps a platform call failure with its classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnclassified
}

// classify maps an HTTP status and response message to an error kind. The
// message keywords mirror what the platform actually returns.
func classify(status int, message string) Kind {
	lowered := strings.ToLower(message)
	switch {
	case status == 429,
		strings.Contains(lowered, "rate limit"),
		strings.Contains(lowered, "too many requests"):
		return KindRateLimited
	case status == 401,
		strings.Contains(lowered, "login_required"),
		strings.Contains(lowered, "login required"):
		return KindSessionExpired
	case status == 404,
		strings.Contains(lowered, "not found"),
		strings.Contains(lowered, "no longer available"):
		return KindNotFound
	case strings.Contains(lowered, "spam"),
		strings.Contains(lowered, "blocked"),
		status == 403:
		return KindRestricted
	default:
		return KindUnclassified
	}
}
