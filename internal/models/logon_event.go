package models

import (
	"time"

	"logon-forwarder/internal/logon"
)

// LogonMessageTemplate is the message every forwarded logon carries.
const LogonMessageTemplate = `[{AppName}] New login detected on {MachineName} - {TargetDomainName}\{TargetUserName} at {EventTime}`

// AppInfo identifies the forwarder instance in every record.
type AppInfo struct {
	Name        string
	Version     string
	MachineName string
	InstanceID  string
}

// LogonEvent is an accepted interactive logon: record metadata plus the
// extracted fields.
type LogonEvent struct {
	EventID     uint32
	InstanceID  uint64
	EventTime   time.Time
	Source      string
	Category    uint16
	LogName     string
	RecordID    uint64
	Description string
	FailedAudit bool
	Fields      logon.Fields
}

// Record builds the sink record. Metadata comes first, then the extracted
// fields in their fixed order.
func (e LogonEvent) Record(app AppInfo) Record {
	props := make([]Property, 0, 10+logon.FieldCount)
	props = append(props,
		Property{Name: "AppName", Value: app.Name},
		Property{Name: "MachineName", Value: app.MachineName},
		Property{Name: "EventId", Value: e.EventID},
		Property{Name: "InstanceId", Value: e.InstanceID},
		Property{Name: "EventTime", Value: e.EventTime},
		Property{Name: "Source", Value: e.Source},
		Property{Name: "Category", Value: e.Category},
		Property{Name: "EventLogName", Value: e.LogName},
		Property{Name: "EventRecordID", Value: e.RecordID},
		Property{Name: "Details", Value: e.Description},
	)
	for i, name := range logon.FieldNames {
		props = append(props, Property{Name: name, Value: e.Fields[i]})
	}

	level := LevelInformation
	if e.FailedAudit {
		level = LevelWarning
	}

	return Record{
		Timestamp:       e.EventTime,
		Level:           level,
		MessageTemplate: LogonMessageTemplate,
		Properties:      props,
	}
}
