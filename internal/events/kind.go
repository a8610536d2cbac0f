package events

import (
	"fmt"
	"strings"
)

// Kind identifies which type of event payload is being delivered.
type Kind string

const (
	KindAnalytics   Kind = "analytics"
	KindDiagnostics Kind = "diagnostics"
)

const (
	analyticsPath   = "/bulk"
	diagnosticsPath = "/diagnostic"
)

// ParseKind converts a user supplied string into a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "analytics", "bulk":
		return KindAnalytics, nil
	case "diagnostics", "diagnostic":
		return KindDiagnostics, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

func (k Kind) String() string {
	return string(k)
}

// path returns the endpoint suffix the collection service expects for this kind.
func (k Kind) path() string {
	if k == KindDiagnostics {
		return diagnosticsPath
	}
	return analyticsPath
}

// Analytics payloads carry the schema version and a payload id for server-side dedup.
func (k Kind) isAnalytics() bool {
	return k != KindDiagnostics
}
