package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-mobile/synccore/internal/models"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/logger"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPRemote talks to the sync backend over its JSON API. Timeouts,
// connection failures, and 5xx responses surface as transient network
// errors so callers retry; 4xx responses are permanent.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

// HTTPOption customises the HTTPRemote.
type HTTPOption func(*HTTPRemote)

// WithHTTPClient substitutes the underlying client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRemote) {
		if client != nil {
			r.client = client
		}
	}
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) HTTPOption {
	return func(r *HTTPRemote) {
		r.token = token
	}
}

// WithRequestTimeout bounds each individual request.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPRemote) {
		if d > 0 {
			r.client.Timeout = d
		}
	}
}

// NewHTTPRemote constructs a Remote against the given base URL.
func NewHTTPRemote(baseURL string, opts ...HTTPOption) (*HTTPRemote, error) {
	if baseURL == "" {
		return nil, errors.New("transport: base URL is required")
	}
	r := &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		log:     logger.WithModule("transport"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *HTTPRemote) DownloadAll(ctx context.Context, kind models.Kind) ([]Envelope, error) {
	return r.download(ctx, kind, nil)
}

func (r *HTTPRemote) DownloadSince(ctx context.Context, kind models.Kind, since time.Time) ([]Envelope, error) {
	return r.download(ctx, kind, &since)
}

func (r *HTTPRemote) download(ctx context.Context, kind models.Kind, since *time.Time) ([]Envelope, error) {
	endpoint := fmt.Sprintf("%s/v1/sync/%s", r.baseURL, kind.Table())
	if since != nil {
		endpoint += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	body, err := r.do(req)
	if err != nil {
		return nil, err
	}

	var envelopes []Envelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, apperrors.ErrSerialization.WithInternal(err)
	}
	return envelopes, nil
}

func (r *HTTPRemote) Upload(ctx context.Context, kind models.Kind, batch []Envelope) error {
	if len(batch) == 0 {
		return nil
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		return apperrors.ErrSerialization.WithInternal(err)
	}

	endpoint := fmt.Sprintf("%s/v1/sync/%s/batch", r.baseURL, kind.Table())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = r.do(req)
	return err
}

func (r *HTTPRemote) do(req *http.Request) ([]byte, error) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// Timeouts, DNS failures, refused connections: all retryable.
		return nil, apperrors.ErrTransientNetwork.WithInternal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperrors.ErrTransientNetwork.WithInternal(err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		r.log.Warn("backend unavailable",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode))
		return nil, apperrors.ErrTransientNetwork.WithInternal(
			fmt.Errorf("transport: %s returned %d", req.URL.Path, resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, apperrors.New("remote_rejected",
			fmt.Sprintf("backend rejected request with status %d", resp.StatusCode))
	}

	return body, nil
}
