package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm/mock"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("quota exceeded")

	tests := []struct {
		name    string
		p       *mock.Provider
		want    string
		wantErr error
	}{
		{
			name: "trims whitespace",
			p:    &mock.Provider{Response: &llm.Response{Content: "  It is sunny.\n"}},
			want: "It is sunny.",
		},
		{
			name:    "whitespace only is empty",
			p:       &mock.Provider{Response: &llm.Response{Content: " \n\t"}},
			wantErr: llm.ErrEmptyResponse,
		},
		{
			name:    "nil response is empty",
			p:       &mock.Provider{},
			wantErr: llm.ErrEmptyResponse,
		},
		{
			name:    "provider error is wrapped",
			p:       &mock.Provider{Err: providerErr},
			wantErr: providerErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := llm.Generate(context.Background(), tt.p, "what's the weather")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerate_SendsSingleUserMessage(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Response: &llm.Response{Content: "ok"}}
	if _, err := llm.Generate(context.Background(), p, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	msgs := calls[0].Messages
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
