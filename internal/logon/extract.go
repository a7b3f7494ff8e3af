package logon

import (
	"errors"
	"fmt"
	"strings"

	"logon-forwarder/internal/eventsource"
)

var ErrMalformed = errors.New("logon: malformed record")

// MalformedError names the fields a record did not carry.
type MalformedError struct {
	RecordID uint64
	Missing  []string
	Empty    bool
}

func (e *MalformedError) Error() string {
	if e.Empty {
		return "logon: empty record"
	}
	return fmt.Sprintf("logon: record %d is missing %d of %d fields: %s",
		e.RecordID, len(e.Missing), FieldCount, strings.Join(e.Missing, ", "))
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

// Extract reads the FieldCount named values from rec in order. A record
// lacking any of them yields a *MalformedError and a Fields value with
// Missing in the absent positions; it is never partially trusted.
func Extract(rec *eventsource.RawRecord) (Fields, error) {
	var f Fields
	if rec == nil {
		for i := range f {
			f[i] = Missing
		}
		return f, &MalformedError{Empty: true}
	}

	var missing []string
	for i, name := range FieldNames {
		v, ok := rec.Field(name)
		if !ok {
			f[i] = Missing
			missing = append(missing, name)
			continue
		}
		f[i] = v
	}

	if len(missing) > 0 {
		return f, &MalformedError{RecordID: rec.RecordID, Missing: missing}
	}
	return f, nil
}
