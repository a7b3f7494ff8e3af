package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logon-forwarder/internal/client"
	"logon-forwarder/internal/config"
)

type seqRequest struct {
	path        string
	rawQuery    string
	contentType string
	apiKey      string
	body        []byte
}

type seqServer struct {
	mu     sync.Mutex
	reqs   []seqRequest
	status int
}

func (s *seqServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.reqs = append(s.reqs, seqRequest{
		path:        r.URL.Path,
		rawQuery:    r.URL.RawQuery,
		contentType: r.Header.Get("Content-Type"),
		apiKey:      r.Header.Get("X-Seq-ApiKey"),
		body:        body,
	})
	status := s.status
	s.mu.Unlock()

	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"Error":"rejected"}`))
}

func (s *seqServer) requests() []seqRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]seqRequest(nil), s.reqs...)
}

func newSeqClient(t *testing.T, url, apiKey string) *client.SeqClient {
	t.Helper()
	cfg := &config.Config{Seq: config.SeqConfig{URL: url + "/", APIKey: apiKey}}
	c, err := client.NewSeqClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSeqSinkPostsCompactJSON(t *testing.T) {
	srv := &seqServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	s := NewSeqSink(newSeqClient(t, ts.URL, "secret-key"))
	assert.Equal(t, "seq", s.Name())

	require.NoError(t, s.Emit(context.Background(), logonRecord("WS-01", 42)))

	reqs := srv.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "/api/events/raw", req.path)
	assert.Equal(t, "clef", req.rawQuery)
	assert.Equal(t, "application/vnd.serilog.clef", req.contentType)
	assert.Equal(t, "secret-key", req.apiKey)

	lines := bytes.Split(bytes.TrimRight(req.body, "\n"), []byte("\n"))
	require.Len(t, lines, 1)
	assert.True(t, bytes.HasSuffix(req.body, []byte("\n")))

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &event))
	assert.Equal(t, "2024-05-01T23:30:00Z", event["@t"])
	assert.Equal(t, "Information", event["@l"])
	assert.Equal(t, "[{AppName}] New login detected on {MachineName}", event["@mt"])
	assert.Equal(t, "[forwarder] New login detected on WS-01", event["@m"])
	assert.Equal(t, "WS-01", event["MachineName"])
	assert.EqualValues(t, 42, event["EventRecordID"])
}

func TestSeqSinkOmitsEmptyAPIKey(t *testing.T) {
	srv := &seqServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	s := NewSeqSink(newSeqClient(t, ts.URL, ""))
	require.NoError(t, s.Emit(context.Background(), logonRecord("WS-01", 1)))

	reqs := srv.requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].apiKey)
}

func TestSeqSinkReportsRejection(t *testing.T) {
	srv := &seqServer{status: http.StatusUnauthorized}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	s := NewSeqSink(newSeqClient(t, ts.URL, "wrong"))
	err := s.Emit(context.Background(), logonRecord("WS-01", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seq sink")
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "rejected")
}

func TestSeqClientHealthCheck(t *testing.T) {
	srv := &seqServer{status: http.StatusOK}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := newSeqClient(t, ts.URL, "k")
	require.NoError(t, c.HealthCheck(context.Background()))
	reqs := srv.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api", reqs[0].path)
	assert.Equal(t, "k", reqs[0].apiKey)

	ts.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNewSeqClientRequiresURL(t *testing.T) {
	_, err := client.NewSeqClient(&config.Config{}, zap.NewNop())
	assert.Error(t, err)
}
