package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"logon-forwarder/internal/util"
)

type Level string

const (
	LevelDebug       Level = "Debug"
	LevelInformation Level = "Information"
	LevelWarning     Level = "Warning"
	LevelError       Level = "Error"
)

// Property is one named value of a Record.
type Property struct {
	Name  string
	Value any
}

// Record is what the forwarder hands to a sink: an ordered set of named
// properties plus a message template whose {Name} holes refer to them.
type Record struct {
	Timestamp       time.Time
	Level           Level
	MessageTemplate string
	Properties      []Property
}

// Get returns the first property called name.
func (r Record) Get(name string) (any, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// Message renders the template against the record's properties.
func (r Record) Message() string {
	return util.SanitizeMessage(RenderTemplate(r.MessageTemplate, r.Properties))
}

// PropertyMap flattens the properties for stores that take a document.
func (r Record) PropertyMap() map[string]any {
	m := make(map[string]any, len(r.Properties))
	for _, p := range r.Properties {
		m[p.Name] = p.Value
	}
	return m
}

// MarshalJSON writes compact log event format: @t, @l, @mt, @m, then the
// properties in their original order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := write("@t", r.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if err := write("@l", string(r.Level)); err != nil {
		return nil, err
	}
	if err := write("@mt", r.MessageTemplate); err != nil {
		return nil, err
	}
	if err := write("@m", r.Message()); err != nil {
		return nil, err
	}
	for _, p := range r.Properties {
		if strings.HasPrefix(p.Name, "@") {
			continue
		}
		if err := write(p.Name, jsonValue(p.Value)); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonValue keeps values JSON can't represent directly readable.
func jsonValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// RenderTemplate replaces {Name} and {Name:format} holes with property
// values. "{{" and "}}" are literal braces. Unknown names are left as-is.
func RenderTemplate(template string, props []Property) string {
	var out strings.Builder
	out.Grow(len(template) + 32)

	for i := 0; i < len(template); i++ {
		c := template[i]

		if c == '{' && i+1 < len(template) && template[i+1] == '{' {
			out.WriteByte('{')
			i++
			continue
		}
		if c == '}' && i+1 < len(template) && template[i+1] == '}' {
			out.WriteByte('}')
			i++
			continue
		}
		if c != '{' {
			out.WriteByte(c)
			continue
		}

		end := strings.IndexByte(template[i+1:], '}')
		if end < 0 {
			out.WriteString(template[i:])
			break
		}
		hole := template[i+1 : i+1+end]
		name, format, _ := strings.Cut(hole, ":")

		value, ok := lookup(props, name)
		if !ok {
			out.WriteString(template[i : i+end+2])
		} else {
			out.WriteString(formatValue(value, format))
		}
		i += end + 1
	}

	return out.String()
}

func lookup(props []Property, name string) (any, bool) {
	for _, p := range props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func formatValue(v any, format string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		if format == "F" {
			return t.Format("Monday, 02 January 2006 15:04:05")
		}
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
