package rpc

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorAction
	}{
		{"nil", nil, ActionRetry},
		{"network", errors.New("dial tcp: connection refused"), ActionRetry},
		{"http 500", errors.New("http 500: internal server error"), ActionRetry},
		{"timeout", errors.New("context deadline exceeded"), ActionRetry},
		{"rate limited", errors.New("rate limited (429), retry after: 2"), ActionFailover},
		{"forbidden", errors.New("ip blocked (403)"), ActionFailover},
		{"quota", errors.New("monthly quota exceeded"), ActionFailover},
		{"limit code", errors.New("rpc error -32005: limit exceeded"), ActionQueryShape},
		{"too many results", errors.New("query returned more than 10000 results"), ActionQueryShape},
		{"range too wide", errors.New("block range is too wide"), ActionQueryShape},
		{"wrapped sentinel", fmt.Errorf("scan: %w", ErrQueryTooLarge), ActionQueryShape},
		{"parse error", errors.New("rpc error -32700: parse error"), ActionFatal},
		{"method not found", errors.New("rpc error -32601: method not found"), ActionFatal},
		{"invalid params", errors.New("rpc error -32602: invalid params"), ActionFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
