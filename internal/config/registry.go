package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one kind's name → constructor table.
type factories[A, P any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]func(A) (P, error)
}

func newFactories[A, P any](kind string) *factories[A, P] {
	return &factories[A, P]{kind: kind, byName: make(map[string]func(A) (P, error))}
}

func (f *factories[A, P]) set(name string, fn func(A) (P, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[name] = fn
}

func (f *factories[A, P]) create(name string, arg A) (P, error) {
	f.mu.RLock()
	fn, ok := f.byName[name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn(arg)
}

func (f *factories[A, P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.byName))
	for name := range f.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to constructors, one table per kind. A later
// registration under the same name replaces the earlier one. Safe for
// concurrent use.
type Registry struct {
	llm  *factories[ProviderEntry, llm.Provider]
	stt  *factories[ProviderEntry, stt.Provider]
	tts  *factories[ProviderEntry, tts.Provider]
	room *factories[RoomConfig, audio.Platform]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:  newFactories[ProviderEntry, llm.Provider]("llm"),
		stt:  newFactories[ProviderEntry, stt.Provider]("stt"),
		tts:  newFactories[ProviderEntry, tts.Provider]("tts"),
		room: newFactories[RoomConfig, audio.Platform]("room"),
	}
}

func (r *Registry) RegisterLLM(name string, fn func(ProviderEntry) (llm.Provider, error)) {
	r.llm.set(name, fn)
}

func (r *Registry) RegisterSTT(name string, fn func(ProviderEntry) (stt.Provider, error)) {
	r.stt.set(name, fn)
}

func (r *Registry) RegisterTTS(name string, fn func(ProviderEntry) (tts.Provider, error)) {
	r.tts.set(name, fn)
}

func (r *Registry) RegisterRoom(name string, fn func(RoomConfig) (audio.Platform, error)) {
	r.room.set(name, fn)
}

// CreateLLM builds the reasoning provider registered as entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry.Name, entry)
}

// CreateSTT builds the transcription provider registered as entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry.Name, entry)
}

// CreateTTS builds the synthesis provider registered as entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry.Name, entry)
}

// CreateRoom builds the room platform registered as room.Platform.
func (r *Registry) CreateRoom(room RoomConfig) (audio.Platform, error) {
	return r.room.create(room.Platform, room)
}

// Names returns the sorted names registered for kind ("llm", "stt", "tts"
// or "room"), or nil for any other kind.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	case "room":
		return r.room.names()
	}
	return nil
}
