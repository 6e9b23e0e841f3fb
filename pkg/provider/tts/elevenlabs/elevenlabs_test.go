package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

type seen struct {
	path, query, accept, apiKey string
	body                        speechRequest
}

func newServer(t *testing.T, reply []byte, got *seen) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.accept = r.Header.Get("Accept")
		got.apiKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&got.body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write(reply)
	}))
}

func TestSynthesize_MP3Request(t *testing.T) {
	var got seen
	srv := newServer(t, []byte("ID3mp3"), &got)
	defer srv.Close()

	p, _ := New("xi-key", WithBaseURL(srv.URL), WithVoice("voice-1"))
	out, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(out) != "ID3mp3" {
		t.Errorf("audio = %q", out)
	}
	if got.path != "/v1/text-to-speech/voice-1" {
		t.Errorf("path = %q", got.path)
	}
	if got.accept != "audio/mpeg" || got.apiKey != "xi-key" {
		t.Errorf("headers accept=%q key=%q", got.accept, got.apiKey)
	}
	if got.body.Text != "Hello there" || got.body.ModelID != "eleven_multilingual_v2" {
		t.Errorf("body = %+v", got.body)
	}
	if got.query != "" {
		t.Errorf("query = %q, want none", got.query)
	}
}

func TestSynthesizePCM_OutputFormat(t *testing.T) {
	var got seen
	srv := newServer(t, []byte{0x01, 0x00, 0xFF, 0xFF}, &got)
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	pcm, err := p.SynthesizePCM(context.Background(),
		tts.Request{Text: "hi", VoiceID: "v2", Model: "eleven_turbo_v2"},
		tts.PCMFormat{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("SynthesizePCM: %v", err)
	}
	if got.query != "output_format=pcm_16000" {
		t.Errorf("query = %q", got.query)
	}
	if got.body.ModelID != "eleven_turbo_v2" {
		t.Errorf("model = %q", got.body.ModelID)
	}
	if len(pcm.Samples) != 2 || pcm.Samples[0] != 1 || pcm.Samples[1] != -1 {
		t.Errorf("samples = %v", pcm.Samples)
	}
	if pcm.Format != (tts.PCMFormat{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v", pcm.Format)
	}
}

func TestSynthesizePCM_UnsupportedRate(t *testing.T) {
	p, _ := New("k", WithVoice("v"))
	if _, err := p.SynthesizePCM(context.Background(), tts.Request{Text: "x"}, tts.PCMFormat{SampleRate: 12345, Channels: 1}); err == nil {
		t.Error("expected error for unsupported sample rate")
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "  "}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text err = %v, want ErrEmptyText", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error when no voice is configured")
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, `{"detail":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	p, _ := New("k", WithBaseURL(srv.URL), WithVoice("v"))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for HTTP 429")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
}
