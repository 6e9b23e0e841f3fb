// Package deepgram provides a Deepgram Aura TTS provider using the /v1/speak
// REST API. Deepgram returns linear16 PCM; Synthesize wraps it in a WAV
// container so clients can play it directly.
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
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

const (
	defaultBaseURL    = "https://api.deepgram.com"
	defaultModel      = "aura-asteria-en"
	defaultSampleRate = 24000
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the default voice model (e.g., "aura-luna-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
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

// Provider implements tts.Provider against Deepgram.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize returns a 24 kHz mono WAV clip.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	raw, err := p.speak(ctx, req, defaultSampleRate)
	if err != nil {
		return nil, err
	}
	return audio.EncodeWAV(audio.DecodePCM16(raw), defaultSampleRate, 1), nil
}

// SynthesizePCM returns mono PCM at the requested sample rate.
func (p *Provider) SynthesizePCM(ctx context.Context, req tts.Request, format tts.PCMFormat) (tts.PCM, error) {
	rate := format.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	raw, err := p.speak(ctx, req, rate)
	if err != nil {
		return tts.PCM{}, err
	}
	return tts.PCM{
		Samples: audio.DecodePCM16(raw),
		Format:  tts.PCMFormat{SampleRate: rate, Channels: 1},
	}, nil
}

// buildURL constructs the /v1/speak URL.
func (p *Provider) buildURL(req tts.Request, sampleRate int) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/speak")
	if err != nil {
		return "", err
	}
	model := req.VoiceID
	if model == "" {
		model = req.Model
	}
	if model == "" {
		model = p.model
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("container", "none")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) speak(ctx context.Context, req tts.Request, sampleRate int) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("deepgram: %w", tts.ErrEmptyText)
	}
	endpoint, err := p.buildURL(req, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	body, err := json.Marshal(map[string]string{"text": req.Text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepgram: TTS failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: TTS failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return nil, errors.New("deepgram: TTS returned no audio")
	}
	return data, nil
}
