package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func logonQuery() Query {
	return Query{LogName: "Security", EventID: 4624, Keywords: KeywordAuditSuccess}
}

func TestQueryMatches(t *testing.T) {
	q := logonQuery()

	tests := []struct {
		name string
		rec  *RawRecord
		want bool
	}{
		{"nil record", nil, true},
		{"matching", &RawRecord{Channel: "Security", EventID: 4624, Keywords: KeywordAuditSuccess}, true},
		{"channel case", &RawRecord{Channel: "security", EventID: 4624, Keywords: KeywordAuditSuccess}, true},
		{"no channel", &RawRecord{EventID: 4624, Keywords: KeywordAuditSuccess}, true},
		{"other channel", &RawRecord{Channel: "System", EventID: 4624, Keywords: KeywordAuditSuccess}, false},
		{"other event", &RawRecord{Channel: "Security", EventID: 4625, Keywords: KeywordAuditSuccess}, false},
		{"failure audit", &RawRecord{Channel: "Security", EventID: 4624, Keywords: KeywordAuditFailure}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, q.Matches(tt.rec))
		})
	}

	assert.True(t, Query{}.Matches(&RawRecord{EventID: 1}))
}

func TestRawRecordHelpers(t *testing.T) {
	var nilRec *RawRecord
	_, ok := nilRec.Field("LogonType")
	assert.False(t, ok)
	assert.False(t, nilRec.IsFailureAudit())

	rec := &RawRecord{Keywords: KeywordAuditFailure, Data: map[string]any{"LogonType": "2"}}
	v, ok := rec.Field("LogonType")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	assert.True(t, rec.IsFailureAudit())
}

func TestMemorySourcePublish(t *testing.T) {
	src := NewMemorySource()

	var got []*RawRecord
	sub, err := src.Subscribe(context.Background(), logonQuery(), func(rec *RawRecord) {
		got = append(got, rec)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, src.Subscribers())

	assert.Equal(t, 1, src.Publish(&RawRecord{RecordID: 1, EventID: 4624, Keywords: KeywordAuditSuccess}))
	assert.Equal(t, 0, src.Publish(&RawRecord{RecordID: 2, EventID: 4625, Keywords: KeywordAuditSuccess}))
	assert.Equal(t, 1, src.Publish(nil))

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].RecordID)
	assert.Nil(t, got[1])

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, src.Subscribers())
	assert.Equal(t, 0, src.Publish(&RawRecord{RecordID: 3, EventID: 4624, Keywords: KeywordAuditSuccess}))
}

func TestMemorySourceFailSubscribe(t *testing.T) {
	src := NewMemorySource()
	src.FailSubscribe = errors.New("access denied")

	sub, err := src.Subscribe(context.Background(), logonQuery(), func(*RawRecord) {})
	assert.Nil(t, sub)
	assert.EqualError(t, err, "access denied")
	assert.Equal(t, 0, src.Subscribers())
}

func TestDecodeRecord(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{
		"record_id": 18446744073709551615,
		"time_created": "2024-05-01T10:00:00Z",
		"event_id": 4624,
		"keywords": 9007199254740992,
		"channel": "Security",
		"computer": "WS-01",
		"data": {"LogonType": 10, "IpPort": "-"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, uint64(18446744073709551615), rec.RecordID)
	assert.Equal(t, uint32(4624), rec.EventID)
	assert.Equal(t, KeywordAuditSuccess, rec.Keywords)
	assert.True(t, rec.TimeCreated.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, json.Number("10"), rec.Data["LogonType"])
	assert.Equal(t, "-", rec.Data["IpPort"])

	_, err = DecodeRecord([]byte(`{"record_id": "nope"`))
	assert.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
}

func newFakeReader(values ...[]byte) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: v}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestKafkaSourceDelivers(t *testing.T) {
	reader := newFakeReader(
		[]byte(`{"record_id": 1, "event_id": 4624, "keywords": 9007199254740992, "channel": "Security"}`),
		[]byte(`not json`),
		[]byte(`{"record_id": 2, "event_id": 4634, "keywords": 9007199254740992, "channel": "Security"}`),
		[]byte(`{"record_id": 3, "event_id": 4624, "keywords": 9007199254740992, "channel": "Security"}`),
	)
	src := NewKafkaSource(reader, zap.NewNop())

	var mu sync.Mutex
	var got []*RawRecord
	sub, err := src.Subscribe(context.Background(), logonQuery(), func(rec *RawRecord) {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(reader.Committed()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, sub.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].RecordID)
	assert.Nil(t, got[1])
	assert.Equal(t, uint64(3), got[2].RecordID)
	assert.Equal(t, []int64{0, 1, 2, 3}, reader.Committed())
}

func TestKafkaSourceSingleSubscription(t *testing.T) {
	src := NewKafkaSource(newFakeReader(), nil)

	sub, err := src.Subscribe(context.Background(), logonQuery(), func(*RawRecord) {})
	require.NoError(t, err)

	_, err = src.Subscribe(context.Background(), logonQuery(), func(*RawRecord) {})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	again, err := src.Subscribe(context.Background(), logonQuery(), func(*RawRecord) {})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestKafkaSourceStopsOnReaderClose(t *testing.T) {
	reader := newFakeReader()
	close(reader.msgs)
	src := NewKafkaSource(reader, nil)

	sub, err := src.Subscribe(context.Background(), logonQuery(), func(*RawRecord) {})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after reader closed")
	}
}

func TestMemorySourceReplay(t *testing.T) {
	src := NewMemorySource()

	var got []*RawRecord
	_, err := src.Subscribe(context.Background(), logonQuery(), func(rec *RawRecord) {
		got = append(got, rec)
	})
	require.NoError(t, err)

	input := strings.Join([]string{
		`{"record_id": 1, "event_id": 4624, "keywords": 9007199254740992}`,
		``,
		`{broken`,
		`{"record_id": 2, "event_id": 4624, "keywords": 9007199254740992}`,
	}, "\n")

	n, err := src.Replay(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].RecordID)
	assert.Nil(t, got[1])
	assert.Equal(t, uint64(2), got[2].RecordID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Replay(ctx, strings.NewReader(input))
	assert.ErrorIs(t, err, context.Canceled)
}
