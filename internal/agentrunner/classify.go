package agentrunner

import "strings"

// ErrorClass buckets a Session error so the turn loop can decide whether to
// fall back to the secondary auth lane, retry once without a session id, or
// fail the run outright.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassAuth
	ErrClassRateLimit
	ErrClassUnknownSession
	ErrClassContextOverflow
)

// ClassifyError pattern-matches a Session error's message the way the
// teacher's engine package classifies brain errors, narrowed to the classes
// this package actually branches on.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrClassUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "401", "unauthorized", "invalid api key", "invalid x-api-key", "authentication_error", "403", "forbidden"):
		return ErrClassAuth
	case containsAny(msg, "429", "rate limit", "rate_limit", "quota", "too many requests", "overloaded"):
		return ErrClassRateLimit
	case containsAny(msg, "session not found", "unknown session", "invalid session", "session_id", "no such session"):
		return ErrClassUnknownSession
	case containsAny(msg, "context_length", "context length", "token limit", "max tokens", "maximum context", "context window"):
		return ErrClassContextOverflow
	default:
		return ErrClassUnknown
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
