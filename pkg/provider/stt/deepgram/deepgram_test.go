package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{SampleRate: 48000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	if u.Path != "/v1/listen" {
		t.Errorf("path = %q", u.Path)
	}
	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "language", "en", q.Get("language"))
}

func TestBuildURL_RequestOverrides(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("de"))

	rawURL, _ := p.buildURL(stt.Request{SampleRate: 16000, Language: "fr", Model: "nova-3"})
	q, _ := url.ParseQuery(mustQuery(t, rawURL))
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "fr", q.Get("language"))

	rawURL, _ = p.buildURL(stt.Request{SampleRate: 16000})
	q, _ = url.ParseQuery(mustQuery(t, rawURL))
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de", q.Get("language"))
}

// ---- response parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"transcript", `{"results":{"channels":[{"alternatives":[{"transcript":" hey aura ","confidence":0.9}]}]}}`, "hey aura"},
		{"no channels", `{"results":{"channels":[]}}`, ""},
		{"no alternatives", `{"results":{"channels":[{"alternatives":[]}]}}`, ""},
		{"empty object", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDeepgramResponse([]byte(tt.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			assertEqual(t, "transcript", tt.want, got)
		})
	}
}

func TestParseDeepgramResponse_InvalidJSON(t *testing.T) {
	if _, err := parseDeepgramResponse([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- HTTP contract ----

func TestTranscribe_PostsRawPCM(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"bye aura"}]}]}}`)
	}))
	defer srv.Close()

	p, _ := New("dg-key", WithBaseURL(srv.URL))
	text, err := p.Transcribe(context.Background(), stt.Request{Samples: []int16{1, -1}, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "bye aura", text)
	assertEqual(t, "auth", "Token dg-key", gotAuth)
	assertEqual(t, "path", "/v1/listen", gotPath)
	if len(gotBody) != 4 || gotBody[0] != 0x01 || gotBody[2] != 0xFF || gotBody[3] != 0xFF {
		t.Errorf("body = % x, want little-endian PCM", gotBody)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{Samples: []int16{1}, SampleRate: 16000}); err == nil {
		t.Error("expected error for HTTP 403")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
}

// ---- helpers ----

func mustQuery(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	return u.RawQuery
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
