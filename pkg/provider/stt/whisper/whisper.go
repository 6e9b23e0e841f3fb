// Package whisper provides an STT provider backed by a local whisper.cpp
// server (the whisper-server binary), which exposes a REST API at
// POST /inference.
//
// Each call uploads one segment as a WAV file and returns the recognised
// text. Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package whisper

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

const defaultLanguage = "en"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). Empty, the default, leaves the model the
// server was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes req as a WAV file and POSTs it to /inference as
// multipart/form-data.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Samples, req.SampleRate, 1)); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
