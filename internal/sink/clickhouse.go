package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"logon-forwarder/internal/models"
)

type clickhouseWriter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink appends one row per record. The full record is kept as
// JSON next to the columns queries filter on.
type ClickHouseSink struct {
	conn  clickhouseWriter
	table string
}

func NewClickHouseSink(conn clickhouseWriter, table string) (*ClickHouseSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &ClickHouseSink{conn: conn, table: table}, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureSchema creates the table if it does not exist.
func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	timestamp DateTime64(3, 'UTC'),
	level LowCardinality(String),
	machine_name LowCardinality(String),
	event_record_id UInt64,
	template String,
	message String,
	record String
) ENGINE = MergeTree
ORDER BY (machine_name, timestamp)`, s.table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseSink) Emit(ctx context.Context, rec models.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	var recordID uint64
	if v, ok := rec.Get("EventRecordID"); ok {
		recordID, _ = v.(uint64)
	}

	row := []interface{}{
		rec.Timestamp.UTC(),
		string(rec.Level),
		machineKey(rec),
		recordID,
		rec.MessageTemplate,
		rec.Message(),
		string(body),
	}
	if err := s.conn.BatchInsert(ctx, "INSERT INTO "+s.table, [][]interface{}{row}); err != nil {
		return fmt.Errorf("clickhouse sink: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error { return nil }
