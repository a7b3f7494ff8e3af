// Package logon turns raw 4624 audit records into the fixed field set the
// forwarder reports, and decides which of them are genuine interactive logons.
package logon

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field positions inside Fields. The order is part of the contract with the
// audit source's schema.
const (
	SubjectUserSid = iota
	SubjectUserName
	SubjectDomainName
	SubjectLogonId
	TargetUserSid
	TargetUserName
	TargetDomainName
	TargetLogonId
	LogonType
	LogonProcessName
	AuthenticationPackageName
	WorkstationName
	LogonGuid
	TransmittedServices
	LmPackageName
	KeyLength
	ProcessId
	ProcessName
	IpAddress
	IpPort
	ImpersonationLevel

	FieldCount
)

// FieldNames are the event data names read from a record, indexed by position.
var FieldNames = [FieldCount]string{
	"SubjectUserSid",
	"SubjectUserName",
	"SubjectDomainName",
	"SubjectLogonId",
	"TargetUserSid",
	"TargetUserName",
	"TargetDomainName",
	"TargetLogonId",
	"LogonType",
	"LogonProcessName",
	"AuthenticationPackageName",
	"WorkstationName",
	"LogonGuid",
	"TransmittedServices",
	"LmPackageName",
	"KeyLength",
	"ProcessId",
	"ProcessName",
	"IpAddress",
	"IpPort",
	"ImpersonationLevel",
}

// Logon type codes that count as interactive.
const (
	LogonTypeInteractive       = 2
	LogonTypeRemoteInteractive = 10
)

// NoNetworkOrigin is the value the source writes when a logon has no network peer.
const NoNetworkOrigin = "-"

type missingValue struct{}

func (missingValue) String() string { return "<missing>" }

// Missing marks a field the source could not supply.
var Missing any = missingValue{}

// Fields is the fixed-length, ordered field set extracted from one record.
type Fields [FieldCount]any

// Get returns the value at position i.
func (f *Fields) Get(i int) any {
	return f[i]
}

// IsMissing reports whether position i holds Missing.
func (f *Fields) IsMissing(i int) bool {
	_, ok := f[i].(missingValue)
	return ok
}

// String renders position i for templates and logs.
func (f *Fields) String(i int) string {
	return stringify(f[i])
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asUint converts the numeric shapes a record value can arrive in.
func asUint(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case uint:
		return uint64(t), true
	case int8:
		return uint64(t), t >= 0
	case int16:
		return uint64(t), t >= 0
	case int32:
		return uint64(t), t >= 0
	case int64:
		return uint64(t), t >= 0
	case int:
		return uint64(t), t >= 0
	case float64:
		if t < 0 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	case float32:
		return asUint(float64(t))
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
