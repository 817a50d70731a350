package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RemoteConfig configures the HTTP embedding client.
type RemoteConfig struct {
	URL       string
	Dimension int
	Timeout   time.Duration
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Client    *http.Client
}

// RemoteProvider calls an embedding service that accepts {"text": ...} and
// answers {"vector": [...]}.
type RemoteProvider struct {
	url     string
	dim     int
	client  *http.Client
	limiter *rate.Limiter
}

type remoteRequest struct {
	Text string `json:"text"`
}

type remoteResponse struct {
	Vector []float32 `json:"vector"`
}

// NewRemoteProvider validates cfg and creates the client.
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: remote URL required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0", ErrInvalidConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	p := &RemoteProvider{url: cfg.URL, dim: cfg.Dimension, client: client}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p, nil
}

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, msg)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Vector) != p.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(out.Vector), p.dim)
	}
	return out.Vector, nil
}

func (p *RemoteProvider) Dimension() int { return p.dim }

func (p *RemoteProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
