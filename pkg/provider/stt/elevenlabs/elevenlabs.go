// Package elevenlabs provides an STT provider backed by the ElevenLabs
// speech-to-text REST API (Scribe).
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "scribe_v1"
)

// ErrMissingText is returned when the response carries neither a "text" nor a
// "transcription" field.
var ErrMissingText = errors.New("elevenlabs: response missing text")

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the transcription model (default "scribe_v1").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code, used when a request has none.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
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

// Provider implements stt.Provider against ElevenLabs.
type Provider struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads req as a mono WAV file and returns the trimmed transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("elevenlabs: %w", err)
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Samples, req.SampleRate, 1)); err != nil {
		return "", fmt.Errorf("elevenlabs: write wav data: %w", err)
	}
	if err := mw.WriteField("model_id", model); err != nil {
		return "", fmt.Errorf("elevenlabs: write model field: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language_code", lang); err != nil {
			return "", fmt.Errorf("elevenlabs: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("elevenlabs: STT failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return parseTranscript(data)
}

// parseTranscript extracts "text", falling back to "transcription". A present
// but empty field means no speech.
func parseTranscript(data []byte) (string, error) {
	var result struct {
		Text          *string `json:"text"`
		Transcription *string `json:"transcription"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("elevenlabs: parse JSON response: %w", err)
	}
	switch {
	case result.Text != nil && *result.Text != "":
		return strings.TrimSpace(*result.Text), nil
	case result.Transcription != nil && *result.Transcription != "":
		return strings.TrimSpace(*result.Transcription), nil
	case result.Text != nil || result.Transcription != nil:
		return "", nil
	default:
		return "", ErrMissingText
	}
}
