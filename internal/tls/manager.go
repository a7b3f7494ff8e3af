// Package tls serves the operations endpoint over TLS, from configured
// files or from a self-signed certificate generated on first use.
package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

type Config struct {
	CertFile string
	KeyFile  string
	// CertDir holds the generated certificate when no files are configured.
	CertDir string
	Hosts   []string
}

type Manager struct {
	config Config
	logger *zap.Logger

	once sync.Once
	cert *tls.Certificate
	err  error
}

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{config: cfg, logger: logger.Named("tls")}
}

// Certificate loads or generates the server certificate once.
func (m *Manager) Certificate() (*tls.Certificate, error) {
	m.once.Do(func() {
		if m.config.CertFile != "" && m.config.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
			if err != nil {
				m.err = fmt.Errorf("failed to load certificate: %w", err)
				return
			}
			m.logger.Info("Using configured certificate", zap.String("cert_file", m.config.CertFile))
			m.cert = &cert
			return
		}

		if err := os.MkdirAll(m.config.CertDir, 0o700); err != nil {
			m.err = fmt.Errorf("failed to create certificate directory: %w", err)
			return
		}
		cert, err := NewSelfSigned(m.config.CertDir, m.logger).Load(m.config.Hosts)
		if err != nil {
			m.err = err
			return
		}
		m.cert = &cert
	})
	return m.cert, m.err
}

func (m *Manager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return m.Certificate()
}

func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}
