package deepgram

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

func TestBuildURL(t *testing.T) {
	p, _ := New("k")

	tests := []struct {
		name      string
		req       tts.Request
		rate      int
		wantModel string
	}{
		{"default voice", tts.Request{Text: "x"}, 24000, "aura-asteria-en"},
		{"voice wins", tts.Request{Text: "x", VoiceID: "aura-luna-en", Model: "aura-stella-en"}, 16000, "aura-luna-en"},
		{"model fallback", tts.Request{Text: "x", Model: "aura-stella-en"}, 16000, "aura-stella-en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := p.buildURL(tt.req, tt.rate)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, _ := url.Parse(raw)
			q := u.Query()
			if u.Path != "/v1/speak" {
				t.Errorf("path = %q", u.Path)
			}
			if q.Get("model") != tt.wantModel {
				t.Errorf("model = %q, want %q", q.Get("model"), tt.wantModel)
			}
			if q.Get("encoding") != "linear16" || q.Get("container") != "none" {
				t.Errorf("encoding/container = %q/%q", q.Get("encoding"), q.Get("container"))
			}
		})
	}
}

func newServer(t *testing.T, pcm []byte, gotRate *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token dg" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] == "" {
			http.Error(w, "no text", http.StatusBadRequest)
			return
		}
		*gotRate = r.URL.Query().Get("sample_rate")
		_, _ = w.Write(pcm)
	}))
}

func TestSynthesize_WrapsWAV(t *testing.T) {
	var rate string
	srv := newServer(t, []byte{1, 0, 2, 0}, &rate)
	defer srv.Close()

	p, _ := New("dg", WithBaseURL(srv.URL))
	wav, err := p.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if rate != "24000" {
		t.Errorf("sample_rate = %q, want 24000", rate)
	}
	if len(wav) != 48 || string(wav[0:4]) != "RIFF" {
		t.Fatalf("wav len = %d", len(wav))
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("wav sample rate = %d", got)
	}
}

func TestSynthesizePCM_RequestedRate(t *testing.T) {
	var rate string
	srv := newServer(t, []byte{1, 0, 2, 0, 3, 0}, &rate)
	defer srv.Close()

	p, _ := New("dg", WithBaseURL(srv.URL))
	pcm, err := p.SynthesizePCM(context.Background(), tts.Request{Text: "hello"}, tts.PCMFormat{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("SynthesizePCM: %v", err)
	}
	if rate != "16000" {
		t.Errorf("sample_rate = %q, want 16000", rate)
	}
	if len(pcm.Samples) != 3 || pcm.Format.SampleRate != 16000 || pcm.Format.Channels != 1 {
		t.Errorf("pcm = %+v", pcm)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	var rate string
	srv := newServer(t, nil, &rate)
	defer srv.Close()
	p, _ := New("wrong", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for HTTP 401")
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	var rate string
	srv := newServer(t, nil, &rate)
	defer srv.Close()
	p, _ := New("dg", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error for empty audio body")
	}
}
