package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
)

// ─── fake transport ───────────────────────────────────────────────────────────

type dataSend struct {
	topic    string
	payload  []byte
	reliable bool
}

// fakeTransport is an in-memory [PeerTransport]. Tests push frames into
// audioIn and read what the room sent from audioOut / data.
type fakeTransport struct {
	audioIn  chan audio.AudioFrame
	audioOut chan audio.AudioFrame

	mu         sync.Mutex
	data       []dataSend
	candidates []string
	answerErr  error
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		audioIn:  make(chan audio.AudioFrame, 16),
		audioOut: make(chan audio.AudioFrame, 64),
	}
}

func (f *fakeTransport) Answer(_ context.Context, offer string) (string, error) {
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "answer:" + offer, nil
}

func (f *fakeTransport) AddICECandidate(c string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) AudioInput() <-chan audio.AudioFrame { return f.audioIn }

func (f *fakeTransport) SendAudio(frame audio.AudioFrame) error {
	select {
	case f.audioOut <- frame:
	default:
	}
	return nil
}

func (f *fakeTransport) SendData(topic string, payload []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, dataSend{topic: topic, payload: payload, reliable: reliable})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory records the transports it hands out by user ID.
type fakeFactory struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func (ff *fakeFactory) build(userID string) (PeerTransport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.transports == nil {
		ff.transports = make(map[string]*fakeTransport)
	}
	tr := newFakeTransport()
	ff.transports[userID] = tr
	return tr, nil
}

func (ff *fakeFactory) get(userID string) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.transports[userID]
}

// ─── test helpers ─────────────────────────────────────────────────────────────

func newTestPlatform(t *testing.T) (*Platform, *fakeFactory) {
	t.Helper()
	ff := &fakeFactory{}
	return New(WithTransportFactory(ff.build)), ff
}

func newTestConnection(t *testing.T) (*Connection, *fakeFactory) {
	t.Helper()
	p, ff := newTestPlatform(t)
	conn, err := p.Connect(context.Background(), "room-test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn.(*Connection), ff
}

// waitEvent waits for an event on ch, failing the test if the timeout elapses.
func waitEvent(t *testing.T, ch <-chan audio.Event, d time.Duration) audio.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(d):
		t.Fatalf("timed out waiting for event after %v", d)
		return audio.Event{}
	}
}

// jsonBody encodes v as JSON and returns a *bytes.Buffer suitable for request bodies.
func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewBuffer(b)
}

// ─── Platform tests ───────────────────────────────────────────────────────────

func TestPlatform_ConnectSharesRoom(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlatform(t)
	a, err := p.Connect(context.Background(), "room-alpha")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b, _ := p.Connect(context.Background(), "room-alpha")
	if a != b {
		t.Error("Connect for the same room should return the same connection")
	}
	if got, ok := p.Room("room-alpha"); !ok || got != a {
		t.Error("Room lookup did not return the connected room")
	}

	if err := a.Disconnect(); err != nil {
		t.Errorf("Disconnect: %v", err)
	}
	if _, ok := p.Room("room-alpha"); ok {
		t.Error("room should be forgotten after Disconnect")
	}
	c, _ := p.Connect(context.Background(), "room-alpha")
	if c == a {
		t.Error("Connect after Disconnect should create a fresh connection")
	}
	_ = c.Disconnect()
}

func TestPlatform_MultipleRooms(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlatform(t)
	const n = 10

	var wg sync.WaitGroup
	conns := make([]audio.Connection, n)
	for i := range n {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			conns[idx], _ = p.Connect(context.Background(), fmt.Sprintf("room-%d", idx))
		}(i)
	}
	wg.Wait()

	seen := make(map[audio.Connection]bool)
	for i, c := range conns {
		if c == nil {
			t.Fatalf("Connect[%d]: nil connection", i)
		}
		seen[c] = true
		_ = c.Disconnect()
	}
	if len(seen) != n {
		t.Errorf("got %d distinct rooms, want %d", len(seen), n)
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

func TestConnection_AddRemovePeer(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	ctx := context.Background()

	answer, err := conn.AddPeer(ctx, "user-1", "Alice", "offer-1")
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if answer != "answer:offer-1" {
		t.Errorf("answer = %q", answer)
	}
	if _, ok := conn.InputStreams()["user-1"]; !ok {
		t.Error("InputStreams: peer user-1 not found after AddPeer")
	}

	if _, err = conn.AddPeer(ctx, "user-1", "Alice", "offer-2"); err == nil {
		t.Error("AddPeer duplicate: expected error, got nil")
	}

	if err = conn.RemovePeer("user-1"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	if _, ok := conn.InputStreams()["user-1"]; ok {
		t.Error("InputStreams: peer user-1 still present after RemovePeer")
	}
	if !ff.get("user-1").isClosed() {
		t.Error("transport should be closed after RemovePeer")
	}
	if err = conn.RemovePeer("user-1"); err == nil {
		t.Error("RemovePeer non-existent: expected error, got nil")
	}
}

func TestConnection_AddPeerAnswerError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("bad sdp")
	var built *fakeTransport
	p := New(WithTransportFactory(func(string) (PeerTransport, error) {
		built = newFakeTransport()
		built.answerErr = wantErr
		return built, nil
	}))
	raw, _ := p.Connect(context.Background(), "r")
	conn := raw.(*Connection)
	defer func() { _ = conn.Disconnect() }()

	if _, err := conn.AddPeer(context.Background(), "u", "U", "x"); !errors.Is(err, wantErr) {
		t.Fatalf("AddPeer err = %v, want %v", err, wantErr)
	}
	if !built.isClosed() {
		t.Error("transport should be closed when negotiation fails")
	}
	if len(conn.InputStreams()) != 0 {
		t.Error("failed peer must not be registered")
	}
}

func TestConnection_InputStreams(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	if n := len(conn.InputStreams()); n != 0 {
		t.Fatalf("InputStreams before AddPeer: want 0, got %d", n)
	}
	if _, err := conn.AddPeer(context.Background(), "user-2", "Bob", "o"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	inputCh := conn.InputStreams()["user-2"]

	want := audio.AudioFrame{Samples: []int16{1, 2, 3}, SampleRate: 48000, Channels: 1}
	ff.get("user-2").audioIn <- want

	select {
	case got := <-inputCh:
		if len(got.Samples) != 3 || got.Samples[2] != 3 {
			t.Errorf("input frame samples: got %v, want %v", got.Samples, want.Samples)
		}
		if got.SampleRate != want.SampleRate {
			t.Errorf("input frame SampleRate: got %d, want %d", got.SampleRate, want.SampleRate)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for audio frame on input channel")
	}
}

func TestConnection_TransportCloseRemovesPeer(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	events := make(chan audio.Event, 4)
	conn.OnParticipantChange(func(ev audio.Event) { events <- ev })

	if _, err := conn.AddPeer(context.Background(), "user-9", "Nina", "o"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	inputCh := conn.InputStreams()["user-9"]
	if ev := waitEvent(t, events, time.Second); ev.Type != audio.EventJoin {
		t.Fatalf("first event = %v, want JOIN", ev.Type)
	}

	close(ff.get("user-9").audioIn)

	if ev := waitEvent(t, events, time.Second); ev.Type != audio.EventLeave || ev.UserID != "user-9" {
		t.Errorf("event = %+v, want LEAVE for user-9", ev)
	}
	select {
	case _, ok := <-inputCh:
		if ok {
			t.Error("expected input channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("input channel not closed after transport closed")
	}
}

func TestConnection_PublishTrackPacesAndBroadcasts(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	ctx := context.Background()
	if _, err := conn.AddPeer(ctx, "listener", "L", "o"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	track, err := conn.PublishTrack(ctx, audio.TrackOptions{Name: "aura-tts", SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("PublishTrack: %v", err)
	}
	if _, err := conn.PublishTrack(ctx, audio.TrackOptions{Name: "aura-tts", SampleRate: 16000, Channels: 1}); !errors.Is(err, audio.ErrTrackExists) {
		t.Errorf("duplicate PublishTrack err = %v, want ErrTrackExists", err)
	}

	start := time.Now()
	for range 3 {
		f := audio.AudioFrame{Samples: make([]int16, 320), SampleRate: 16000, Channels: 1}
		if err := track.CaptureFrame(ctx, f); err != nil {
			t.Fatalf("CaptureFrame: %v", err)
		}
	}
	if err := track.WaitForPlayout(ctx); err != nil {
		t.Fatalf("WaitForPlayout: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("3×20ms frames played out in %v, expected real-time pacing", elapsed)
	}

	out := ff.get("listener").audioOut
	if len(out) != 3 {
		t.Errorf("peer received %d frames, want 3", len(out))
	}

	bad := audio.AudioFrame{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if err := track.CaptureFrame(ctx, bad); err == nil {
		t.Error("CaptureFrame with wrong format: expected error")
	}

	if err := conn.UnpublishTrack(ctx, "aura-tts"); err != nil {
		t.Errorf("UnpublishTrack: %v", err)
	}
	if err := conn.UnpublishTrack(ctx, "aura-tts"); !errors.Is(err, audio.ErrTrackNotFound) {
		t.Errorf("second UnpublishTrack err = %v, want ErrTrackNotFound", err)
	}
}

func TestConnection_WaitForPlayoutIdle(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	track, err := conn.PublishTrack(context.Background(), audio.TrackOptions{Name: "t", SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("PublishTrack: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := track.WaitForPlayout(ctx); err != nil {
		t.Errorf("WaitForPlayout on idle track: %v", err)
	}
}

func TestConnection_PublishData(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := conn.AddPeer(ctx, id, id, "o"); err != nil {
			t.Fatalf("AddPeer(%s): %v", id, err)
		}
	}

	if err := conn.PublishData(ctx, []byte("mp3"), audio.DataOptions{Topic: "tts_audio", Reliable: true}); err != nil {
		t.Fatalf("PublishData: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		tr := ff.get(id)
		tr.mu.Lock()
		got := tr.data
		tr.mu.Unlock()
		if len(got) != 1 || got[0].topic != "tts_audio" || !got[0].reliable || string(got[0].payload) != "mp3" {
			t.Errorf("peer %s data = %+v", id, got)
		}
	}
}

func TestConnection_OnParticipantChange(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	events := make(chan audio.Event, 4)
	conn.OnParticipantChange(func(ev audio.Event) { events <- ev })

	if _, err := conn.AddPeer(context.Background(), "user-4", "Dana", "o"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	ev := waitEvent(t, events, time.Second)
	if ev.Type != audio.EventJoin || ev.UserID != "user-4" || ev.Username != "Dana" {
		t.Errorf("join event = %+v", ev)
	}

	if err := conn.RemovePeer("user-4"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	ev = waitEvent(t, events, time.Second)
	if ev.Type != audio.EventLeave || ev.UserID != "user-4" {
		t.Errorf("leave event = %+v", ev)
	}
}

func TestConnection_Disconnect(t *testing.T) {
	t.Parallel()

	conn, ff := newTestConnection(t)
	ctx := context.Background()
	if _, err := conn.AddPeer(ctx, "user-5", "Eve", "o"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
	if len(conn.InputStreams()) != 0 {
		t.Error("InputStreams should be empty after Disconnect")
	}
	if !ff.get("user-5").isClosed() {
		t.Error("transport should be closed after Disconnect")
	}
	if _, err := conn.AddPeer(ctx, "user-6", "F", "o"); !errors.Is(err, audio.ErrDisconnected) {
		t.Errorf("AddPeer after Disconnect err = %v, want ErrDisconnected", err)
	}
	if _, err := conn.PublishTrack(ctx, audio.TrackOptions{Name: "x", SampleRate: 16000, Channels: 1}); !errors.Is(err, audio.ErrDisconnected) {
		t.Errorf("PublishTrack after Disconnect err = %v, want ErrDisconnected", err)
	}
}

func TestConnection_ConcurrentPeerOperations(t *testing.T) {
	t.Parallel()

	conn, _ := newTestConnection(t)
	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", idx)
			if _, err := conn.AddPeer(context.Background(), id, id, "o"); err != nil {
				t.Errorf("AddPeer(%s): %v", id, err)
				return
			}
			_ = conn.InputStreams()
			if err := conn.RemovePeer(id); err != nil {
				t.Errorf("RemovePeer(%s): %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	if len(conn.InputStreams()) != 0 {
		t.Errorf("expected no peers, got %d", len(conn.InputStreams()))
	}
}

// ─── Signaling tests ──────────────────────────────────────────────────────────

type staticAuth struct {
	token, room, identity string
}

func (a staticAuth) Authenticate(token, room string) (string, string, error) {
	if token != a.token {
		return "", "", errors.New("bad token")
	}
	if room != a.room {
		return "", "", errors.New("room not granted")
	}
	return a.identity, a.identity, nil
}

func TestSignalingServer_JoinICELeave(t *testing.T) {
	t.Parallel()

	p, ff := newTestPlatform(t)
	srv := httptest.NewServer(NewSignalingServer(p).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rooms/demo/join", "application/json",
		jsonBody(t, joinRequest{UserID: "iphone", Username: "Phone", SDPOffer: "v=0"}))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	var jr joinResponse
	_ = json.NewDecoder(resp.Body).Decode(&jr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d", resp.StatusCode)
	}
	if jr.SDPAnswer != "answer:v=0" || jr.UserID != "iphone" {
		t.Errorf("join response = %+v", jr)
	}

	resp, err = http.Post(srv.URL+"/rooms/demo/ice", "application/json",
		jsonBody(t, iceRequest{UserID: "iphone", Candidate: "candidate:1"}))
	if err != nil {
		t.Fatalf("ice: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ice status = %d", resp.StatusCode)
	}
	tr := ff.get("iphone")
	tr.mu.Lock()
	if len(tr.candidates) != 1 || tr.candidates[0] != "candidate:1" {
		t.Errorf("candidates = %v", tr.candidates)
	}
	tr.mu.Unlock()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/rooms/demo/leave", jsonBody(t, leaveRequest{UserID: "iphone"}))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("leave status = %d", resp.StatusCode)
	}
	if !tr.isClosed() {
		t.Error("transport should be closed after leave")
	}

	if conn, ok := p.Room("demo"); ok {
		_ = conn.Disconnect()
	}
}

func TestSignalingServer_Errors(t *testing.T) {
	t.Parallel()

	p, _ := newTestPlatform(t)
	srv := httptest.NewServer(NewSignalingServer(p).Handler())
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"join bad json", http.MethodPost, "/rooms/r/join", "{", http.StatusBadRequest},
		{"join no user", http.MethodPost, "/rooms/r/join", `{"sdp_offer":"x"}`, http.StatusBadRequest},
		{"join no offer", http.MethodPost, "/rooms/r/join", `{"user_id":"u"}`, http.StatusBadRequest},
		{"ice unknown room", http.MethodPost, "/rooms/nope/ice", `{"user_id":"u","candidate":"c"}`, http.StatusNotFound},
		{"leave no user", http.MethodDelete, "/rooms/r/leave", `{}`, http.StatusBadRequest},
		{"leave unknown room", http.MethodDelete, "/rooms/nope/leave", `{"user_id":"u"}`, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/rooms/r/join", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, bytes.NewBufferString(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSignalingServer_TokenGatedJoin(t *testing.T) {
	t.Parallel()

	p, ff := newTestPlatform(t)
	auth := staticAuth{token: "good", room: "demo", identity: "iphone"}
	srv := httptest.NewServer(NewSignalingServer(p, WithAuthenticator(auth)).Handler())
	defer srv.Close()

	join := func(token, room string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rooms/"+room+"/join",
			jsonBody(t, joinRequest{UserID: "spoofed", SDPOffer: "v=0"}))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := join("", "demo"); got != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", got)
	}
	if got := join("bad", "demo"); got != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", got)
	}
	if got := join("good", "other"); got != http.StatusUnauthorized {
		t.Errorf("wrong room: status = %d, want 401", got)
	}
	if got := join("good", "demo"); got != http.StatusOK {
		t.Fatalf("good token: status = %d, want 200", got)
	}
	if ff.get("iphone") == nil || ff.get("spoofed") != nil {
		t.Error("identity must come from the token, not the request body")
	}
	if conn, ok := p.Room("demo"); ok {
		_ = conn.Disconnect()
	}
}
