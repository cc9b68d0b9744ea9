package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/pkg/retry"
)

// maxBodyBytes bounds a snapshot response body.
const maxBodyBytes = 4 << 20

// HTTPSource fetches a baseline with a GET request returning
// {"metrics": {...}, "sensors": [...]}.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
	retry  retry.Config
	now    func() time.Time
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.client = client
		}
	}
}

// WithRetry sets the retry policy for a single fetch.
func WithRetry(cfg retry.Config) HTTPOption {
	return func(s *HTTPSource) {
		s.retry = cfg
	}
}

// WithFetchClock replaces time.Now for FetchedAt.
func WithFetchClock(now func() time.Time) HTTPOption {
	return func(s *HTTPSource) {
		if now != nil {
			s.now = now
		}
	}
}

// NewHTTPSource creates a source named name reading from url.
func NewHTTPSource(name, url string, opts ...HTTPOption) (*HTTPSource, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "snapshot", "NewHTTPSource", "validate name")
	}
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptyURL, "snapshot", "NewHTTPSource", "validate url")
	}
	s := &HTTPSource{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry.DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements Source.
func (s *HTTPSource) Name() string {
	return s.name
}

// Fetch implements Source. 4xx responses are not retried.
func (s *HTTPSource) Fetch(ctx context.Context) (Baseline, error) {
	b, err := retry.DoWithResult(ctx, s.retry, func() (Baseline, error) {
		return s.fetchOnce(ctx)
	})
	if err != nil {
		if retry.IsNonRetryable(err) {
			return Baseline{}, errors.WrapInvalid(err, "snapshot", "Fetch", "fetch "+s.name)
		}
		return Baseline{}, errors.WrapTransient(err, "snapshot", "Fetch", "fetch "+s.name)
	}
	return b, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context) (Baseline, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Baseline{}, retry.NonRetryable(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Baseline{}, fmt.Errorf("%w: %v", errors.ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Baseline{}, fmt.Errorf("%w: status %d", errors.ErrSnapshotUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Baseline{}, retry.NonRetryable(fmt.Errorf("%w: status %d", errors.ErrSnapshotUnavailable, resp.StatusCode))
	}

	var body struct {
		Metrics map[string]float64 `json:"metrics"`
		Sensors []SensorInfo       `json:"sensors"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return Baseline{}, retry.NonRetryable(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err))
	}
	if body.Metrics == nil {
		body.Metrics = map[string]float64{}
	}

	return Baseline{
		Source:    s.name,
		FetchedAt: s.now(),
		Metrics:   body.Metrics,
		Sensors:   body.Sensors,
	}, nil
}
