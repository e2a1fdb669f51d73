package dialogue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/talkback/internal/dialogue"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/llm/mock"
)

func newGenerator(t *testing.T, p *mock.Provider, opts ...dialogue.Option) *dialogue.Generator {
	t.Helper()
	g, err := dialogue.NewGenerator(p, opts...)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestGenerate_SendsFixedParameters(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "  Hey! What's up?\n"},
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 8192, SupportsTopK: true, SupportsSafetySettings: true},
	}
	g := newGenerator(t, p)

	reply, err := g.Generate(context.Background(), "Hello!")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Text != "Hey! What's up?" {
		t.Errorf("reply = %q", reply.Text)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	req := calls[0].Req
	want := dialogue.DefaultParams()
	if req.SystemPrompt != want.SystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 2 || req.TopP != 0.95 || req.TopK != 64 || req.MaxTokens != 8192 {
		t.Errorf("sampling = temp %v topP %v topK %d max %d", req.Temperature, req.TopP, req.TopK, req.MaxTokens)
	}
	if req.SafetyThreshold != llm.SafetyBlockMediumAndAbove {
		t.Errorf("safety = %q", req.SafetyThreshold)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "Hello!" {
		t.Errorf("messages = %+v, want one user turn", req.Messages)
	}
}

func TestGenerate_EachCallIsSingleTurn(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	g := newGenerator(t, p)

	for _, in := range []string{"first", "second"} {
		if _, err := g.Generate(context.Background(), in); err != nil {
			t.Fatalf("Generate(%q): %v", in, err)
		}
	}
	calls := p.Calls()
	if len(calls[1].Req.Messages) != 1 || calls[1].Req.Messages[0].Content != "second" {
		t.Errorf("second call carried history: %+v", calls[1].Req.Messages)
	}
}

func TestGenerate_Failures(t *testing.T) {
	t.Parallel()
	upstream := errors.New("connection refused")
	tests := []struct {
		name    string
		p       *mock.Provider
		wantErr error
	}{
		{"provider error", &mock.Provider{CompleteErr: upstream}, upstream},
		{"nil response", &mock.Provider{}, dialogue.ErrEmptyCompletion},
		{"empty content", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n", FinishReason: "MAX_TOKENS"}}, dialogue.ErrEmptyCompletion},
		{"blocked", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Blocked: true, BlockReason: "SAFETY", Content: "partial"}}, dialogue.ErrBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGenerator(t, tt.p, dialogue.WithProviderName("gemini"))
			_, err := g.Generate(context.Background(), "hi")
			var ge *dialogue.GenerationError
			if !errors.As(err, &ge) {
				t.Fatalf("err = %v (%T), want *GenerationError", err, err)
			}
			if ge.Provider != "gemini" {
				t.Errorf("provider = %q", ge.Provider)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerate_EmptyInputSkipsProvider(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
	g := newGenerator(t, p)

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := g.Generate(context.Background(), in); !errors.Is(err, dialogue.ErrEmptyInput) {
			t.Errorf("Generate(%q) err = %v, want ErrEmptyInput", in, err)
		}
	}
	if n := len(p.Calls()); n != 0 {
		t.Errorf("provider called %d times", n)
	}
}

func TestNewGenerator_ClampsMaxTokens(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 4096}}
	g := newGenerator(t, p)
	if got := g.Params().MaxTokens; got != 4096 {
		t.Errorf("max tokens = %d, want clamp to 4096", got)
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	t.Parallel()
	if _, err := dialogue.NewGenerator(nil); err == nil {
		t.Error("expected error for nil provider")
	}
	params := dialogue.DefaultParams()
	params.SafetyThreshold = "BLOCK_EVERYTHING"
	if _, err := dialogue.NewGenerator(&mock.Provider{}, dialogue.WithParams(params)); err == nil {
		t.Error("expected error for invalid safety threshold")
	}
}

func TestGenerate_PropagatesContext(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	g := newGenerator(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
