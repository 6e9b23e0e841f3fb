// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
package elevenlabs

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

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
)

// supportedPCMRates are the sample rates ElevenLabs offers as pcm_{rate}.
var supportedPCMRates = map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true, 48000: true}

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice ID used when a request carries none.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voiceID = voiceID
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

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	model      string
	voiceID    string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
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

// speechRequest is the JSON body of a text-to-speech call.
type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize returns MP3 audio for req.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	return p.speak(ctx, req, "audio/mpeg", "")
}

// SynthesizePCM requests pcm_{rate} output. ElevenLabs PCM is always mono, so
// the returned format has one channel regardless of the request.
func (p *Provider) SynthesizePCM(ctx context.Context, req tts.Request, format tts.PCMFormat) (tts.PCM, error) {
	if !supportedPCMRates[format.SampleRate] {
		return tts.PCM{}, fmt.Errorf("elevenlabs: unsupported PCM sample rate %d", format.SampleRate)
	}
	raw, err := p.speak(ctx, req, "audio/pcm", fmt.Sprintf("pcm_%d", format.SampleRate))
	if err != nil {
		return tts.PCM{}, err
	}
	return tts.PCM{
		Samples: audio.DecodePCM16(raw),
		Format:  tts.PCMFormat{SampleRate: format.SampleRate, Channels: 1},
	}, nil
}

func (p *Provider) speak(ctx context.Context, req tts.Request, accept, outputFormat string) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("elevenlabs: %w", tts.ErrEmptyText)
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voiceID
	}
	if voice == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	endpoint := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice)
	if outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(outputFormat)
	}

	body, err := json.Marshal(speechRequest{Text: req.Text, ModelID: model})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: TTS failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
