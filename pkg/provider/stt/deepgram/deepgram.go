// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded transcription REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-2"
	defaultLanguage = "en"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code used when a request carries none.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts the raw little-endian PCM of req and returns the first
// alternative's transcript. A response without a transcript yields "".
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	endpoint, err := p.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.EncodePCM16(req.Samples)))
	if err != nil {
		return "", fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("deepgram: STT failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram: STT failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return parseDeepgramResponse(data)
}

// buildURL constructs the /v1/listen URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.SampleRate))
	q.Set("channels", "1")
	q.Set("language", lang)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the subset of the pre-recorded response we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func parseDeepgramResponse(data []byte) (string, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("deepgram: parse JSON response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Results.Channels[0].Alternatives[0].Transcript), nil
}
