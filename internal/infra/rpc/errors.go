package rpc

import (
	"errors"
	"strings"
)

var (
	// ErrProviderExhausted is returned when every configured provider
	// for a chain is unreachable. Retryable at the orchestrator level;
	// never reported as "no events found".
	ErrProviderExhausted = errors.New("all providers exhausted")

	// ErrQueryTooLarge is returned when a provider rejects a log query
	// range as too wide. The caller subdivides the chunk; the call is
	// never retried as-is.
	ErrQueryTooLarge = errors.New("query range too large")
)

// ErrorAction determines how the connection manager handles an error.
type ErrorAction int

const (
	// ActionRetry: transient (network, 5xx, timeout). Retry / fail over.
	ActionRetry ErrorAction = iota
	// ActionFailover: provider-specific (429, 403, quota). Skip to the
	// next provider immediately.
	ActionFailover
	// ActionQueryShape: the request shape is the problem. Propagate so
	// the caller can subdivide; failing over would not help.
	ActionQueryShape
	// ActionFatal: malformed request or method not supported. Propagate
	// without retry.
	ActionFatal
)

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, ErrQueryTooLarge) {
		return ActionQueryShape
	}

	s := err.Error()
	sLower := strings.ToLower(s)

	// Query-shape rejections: provider-specific phrasings for ranges
	// or result sets that are too big. -32005 is the common "limit
	// exceeded" JSON-RPC code.
	if strings.Contains(s, "-32005") ||
		strings.Contains(sLower, "query returned more than") ||
		strings.Contains(sLower, "block range is too wide") ||
		strings.Contains(sLower, "response size exceeded") ||
		strings.Contains(sLower, "query timeout exceeded") ||
		strings.Contains(sLower, "too many results") {
		return ActionQueryShape
	}

	// Fatal request issues.
	// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	// Provider-specific issues: fail over without burning retries here.
	if strings.Contains(s, "429") || strings.Contains(sLower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(sLower, "forbidden") ||
		strings.Contains(sLower, "quota") || strings.Contains(sLower, "plan limit") ||
		strings.Contains(sLower, "unauthorized") ||
		strings.Contains(sLower, "rate limit") {
		return ActionFailover
	}

	// Default to Retry (network, 5xx, timeout)
	return ActionRetry
}
