package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickhouseAddr(t *testing.T) {
	tests := []struct {
		raw    string
		addr   string
		secure bool
	}{
		{"localhost:9000", "localhost:9000", false},
		{"localhost", "localhost:9000", false},
		{"clickhouse://ch.internal", "ch.internal:9000", false},
		{"clickhouses://ch.internal", "ch.internal:9440", true},
		{"https://ch.internal/", "ch.internal:9440", true},
		{"https://ch.internal:19440?secure=true", "ch.internal:19440", true},
		{" 10.0.0.5 ", "10.0.0.5:9000", false},
		{"[::1]", "[::1]:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			addr, secure := clickhouseAddr(tt.raw)
			assert.Equal(t, tt.addr, addr)
			assert.Equal(t, tt.secure, secure)
		})
	}
}

func TestClickhouseTLSConfig(t *testing.T) {
	cfg, err := clickhouseTLSConfig("ch.internal:9440", "")
	require.NoError(t, err)
	assert.Equal(t, "ch.internal", cfg.ServerName)
	assert.Nil(t, cfg.RootCAs)

	_, err = clickhouseTLSConfig("ch.internal:9440", filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = clickhouseTLSConfig("ch.internal:9440", bad)
	assert.Error(t, err)
}
