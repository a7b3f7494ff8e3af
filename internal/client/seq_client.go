package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"logon-forwarder/internal/config"
)

const (
	seqRawPath    = "/api/events/raw?clef"
	seqClefType   = "application/vnd.serilog.clef"
	seqAPIKeyName = "X-Seq-ApiKey"
)

// SeqClient posts compact JSON events to a Seq server's raw ingestion endpoint.
type SeqClient struct {
	Client  *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

func NewSeqClient(cfg *config.Config, logger *zap.Logger) (*SeqClient, error) {
	seqConfig := cfg.Seq

	baseURL := strings.TrimRight(strings.TrimSpace(seqConfig.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("seq URL is empty")
	}

	timeout := seqConfig.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &SeqClient{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: baseURL,
		apiKey:  seqConfig.APIKey,
		logger:  logger,
	}

	logger.Info("Seq client initialized",
		zap.String("url", baseURL),
		zap.Bool("api_key_set", c.apiKey != ""),
	)

	return c, nil
}

func (s *SeqClient) Close() {
	s.Client.CloseIdleConnections()
	s.logger.Info("Seq client shutdown")
}

// HealthCheck hits the API root, which any reachable Seq answers with 200.
func (s *SeqClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api", nil)
	if err != nil {
		return fmt.Errorf("failed to build seq health request: %w", err)
	}
	s.authorize(req)

	res, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("seq unreachable: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("seq health check: [%s]", res.Status)
	}
	return nil
}

// PostEvents sends newline-delimited compact JSON events in one request.
func (s *SeqClient) PostEvents(ctx context.Context, clef []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+seqRawPath, bytes.NewReader(clef))
	if err != nil {
		return fmt.Errorf("failed to build seq request: %w", err)
	}
	req.Header.Set("Content-Type", seqClefType)
	s.authorize(req)

	res, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error posting events to seq: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return fmt.Errorf("seq error: [%s] %s", res.Status, strings.TrimSpace(string(body)))
}

func (s *SeqClient) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set(seqAPIKeyName, s.apiKey)
	}
}
