package logon

import (
	"strings"

	"github.com/google/uuid"
)

// Verdict is the filter's decision for one record.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictNonInteractiveType
	VerdictNoNetworkOrigin
	VerdictNoCorrelation
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictNonInteractiveType:
		return "non_interactive_type"
	case VerdictNoNetworkOrigin:
		return "no_network_origin"
	case VerdictNoCorrelation:
		return "no_correlation"
	default:
		return "unknown"
	}
}

// Accepted reports whether the verdict lets the record through.
func (v Verdict) Accepted() bool {
	return v == VerdictAccepted
}

// Evaluate applies the interactive-logon rules in order and returns the
// first one that rejects. Any single rule rejects on its own, so the order
// only changes which reason is reported.
func Evaluate(f Fields) Verdict {
	lt, ok := asUint(f[LogonType])
	if !ok || (lt != LogonTypeInteractive && lt != LogonTypeRemoteInteractive) {
		return VerdictNonInteractiveType
	}

	if strings.TrimSpace(stringify(f[IpPort])) == NoNetworkOrigin {
		return VerdictNoNetworkOrigin
	}

	if isZeroGUID(f[LogonGuid]) {
		return VerdictNoCorrelation
	}

	return VerdictAccepted
}

// IsValid reports whether f describes a genuine interactive logon.
func IsValid(f Fields) bool {
	return Evaluate(f).Accepted()
}

func isZeroGUID(v any) bool {
	switch t := v.(type) {
	case uuid.UUID:
		return t == uuid.Nil
	case [16]byte:
		return t == [16]byte{}
	case missingValue:
		return false
	}

	s := strings.TrimSpace(stringify(v))
	if id, err := uuid.Parse(s); err == nil {
		return id == uuid.Nil
	}
	return s == uuid.Nil.String()
}
