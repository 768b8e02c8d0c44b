// Package realtime talks HTTP to the credential service and the realtime
// endpoint's SDP exchange.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/dkeye/VoiceGuide/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1/realtime"
	DefaultModel   = "gpt-4o-realtime-preview-2024-12-17"

	maxBody = 1 << 20
)

var (
	ErrEmptyCredential = errors.New("realtime: credential service returned no secret")
	ErrNotDescription  = errors.New("realtime: answer is not a session description")
)

// StatusError is a non-2xx reply from either endpoint.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("realtime: %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Option configures a client.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func buildOptions(opts []Option) *options {
	o := &options{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TokenClient fetches short-lived credentials. It implements
// core.CredentialSource.
type TokenClient struct {
	url    string
	client *http.Client
}

func NewTokenClient(tokenURL string, opts ...Option) *TokenClient {
	o := buildOptions(opts)
	return &TokenClient{url: tokenURL, client: o.httpClient}
}

type tokenResponse struct {
	ClientSecret *clientSecret `json:"client_secret"`
}

type clientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

func (c *TokenClient) FetchCredential(ctx context.Context) (core.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return core.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return core.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return core.Credential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.Credential{}, &StatusError{Op: "token", Status: resp.StatusCode, Body: excerpt(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return core.Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.ClientSecret == nil || tr.ClientSecret.Value == "" {
		return core.Credential{}, ErrEmptyCredential
	}

	cred := core.Credential{Value: tr.ClientSecret.Value}
	if tr.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(tr.ClientSecret.ExpiresAt, 0)
	}
	log.Debug().Str("module", "realtime").Time("expires_at", cred.ExpiresAt).Msg("credential fetched")
	return cred, nil
}

// SDPClient posts offers to the realtime endpoint. It implements
// core.DescriptionExchanger.
type SDPClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewSDPClient(baseURL, model string, opts ...Option) *SDPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	o := buildOptions(opts)
	return &SDPClient{baseURL: baseURL, model: model, client: o.httpClient}
}

func (c *SDPClient) endpoint() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *SDPClient) Exchange(ctx context.Context, cred core.Credential, offerSDP string) (string, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return "", fmt.Errorf("realtime endpoint: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Value)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sdp request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read sdp answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Op: "sdp", Status: resp.StatusCode, Body: excerpt(body)}
	}

	answer := string(body)
	if !strings.HasPrefix(strings.TrimLeft(answer, " \r\n\t"), "v=") {
		return "", fmt.Errorf("%w: %q", ErrNotDescription, excerpt(body))
	}
	return answer, nil
}

func excerpt(b []byte) string {
	return protocol.Excerpt(string(b), 200)
}
