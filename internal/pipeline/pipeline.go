// Package pipeline runs one chat request end to end: the reply is generated,
// spoken, transcoded to a waveform and turned into a mouth-cue timeline.
//
// Stages run strictly in order and each one only sees the previous stage's
// output. The first failure aborts the run; nothing is retried. Transient
// files live in a request-scoped [workspace.Workspace] that is created right
// before the first file is written and removed on every exit path.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/talkback/internal/dialogue"
	"github.com/MrWong99/talkback/internal/lipsync"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/workspace"
)

// ChatRequest is the inbound chat call.
type ChatRequest struct {
	UserInput string `json:"userInput"`
}

// ChatResponse carries the three artifacts of a successful run. Audio is
// encoded as base64 by encoding/json.
type ChatResponse struct {
	Text    string            `json:"text"`
	Audio   []byte            `json:"audio"`
	Lipsync *lipsync.Timeline `json:"lipsync"`

	// RequestID identifies the run in logs. It is not sent to clients.
	RequestID string `json:"-"`
}

// Generator produces the reply text.
type Generator interface {
	Generate(ctx context.Context, userInput string) (dialogue.Reply, error)
}

// Synthesizer turns reply text into a complete audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (speech.Artifact, error)
}

// Converter persists an audio artifact into ws and derives its waveform.
type Converter interface {
	Convert(ctx context.Context, ws *workspace.Workspace, art speech.Artifact) (lipsync.Waveform, error)
}

// Extractor derives the mouth-cue timeline of a waveform.
type Extractor interface {
	Extract(ctx context.Context, ws *workspace.Workspace, wf lipsync.Waveform) (*lipsync.Timeline, error)
}

// Stages bundles the four stage implementations. All fields are required.
type Stages struct {
	Generator   Generator
	Synthesizer Synthesizer
	Converter   Converter
	Extractor   Extractor
}

// Timeouts bounds each stage. A zero value disables the bound for that stage;
// the request context still applies.
type Timeouts struct {
	Generate   time.Duration
	Synthesize time.Duration
	Convert    time.Duration
	Extract    time.Duration
}

// DefaultTimeouts returns the stage bounds used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Generate:   60 * time.Second,
		Synthesize: 60 * time.Second,
		Convert:    30 * time.Second,
		Extract:    60 * time.Second,
	}
}

func (t Timeouts) of(s Stage) time.Duration {
	switch s {
	case StageGenerate:
		return t.Generate
	case StageSynthesize:
		return t.Synthesize
	case StageConvert:
		return t.Convert
	case StageExtract:
		return t.Extract
	}
	return 0
}

// Observer is called with every state a run enters, starting with
// [StateReceived]. It must be safe for concurrent use and must not block.
type Observer func(requestID string, s State)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTimeouts overrides [DefaultTimeouts].
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) { p.timeouts = t }
}

// WithWorkspaceRoot sets the directory request workspaces are created in.
// Default: <os.TempDir()>/talkback.
func WithWorkspaceRoot(root string) Option {
	return func(p *Pipeline) { p.root = root }
}

// WithObserver registers fn for state transitions.
func WithObserver(fn Observer) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// WithMetrics records runs to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline sequences the chat stages. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	stages   Stages
	timeouts Timeouts
	root     string
	observer Observer
	metrics  *observe.Metrics
}

// New returns a Pipeline over stages.
func New(stages Stages, opts ...Option) (*Pipeline, error) {
	if stages.Generator == nil || stages.Synthesizer == nil || stages.Converter == nil || stages.Extractor == nil {
		return nil, errors.New("pipeline: all four stages are required")
	}
	p := &Pipeline{
		stages:   stages,
		timeouts: DefaultTimeouts(),
		root:     filepath.Join(os.TempDir(), "talkback"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Run executes one chat request. An empty or blank userInput returns a
// *[ValidationError] without touching any stage or the filesystem. Every
// other failure is a *[StageError] naming the stage that failed.
func (p *Pipeline) Run(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	r := &run{
		p:     p,
		id:    uuid.NewString(),
		state: StateReceived,
		start: time.Now(),
	}
	ctx, span := observe.RequestSpan(ctx, "pipeline.run", r.id)
	defer span.End()
	r.log = observe.Logger(ctx).With("request_id", r.id)
	r.notify(StateReceived)

	if strings.TrimSpace(req.UserInput) == "" {
		r.transition(StateAborted)
		p.metrics.RecordPipelineRun(ctx, "invalid", "")
		return nil, &ValidationError{Field: "userInput", Reason: "must not be empty"}
	}

	p.metrics.ActiveRequests.Add(ctx, 1)
	defer p.metrics.ActiveRequests.Add(ctx, -1)

	resp, err := r.execute(ctx, req.UserInput)
	if err != nil {
		r.transition(StateAborted)
		var se *StageError
		stage := ""
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage "+stage+" failed")
		p.metrics.RecordPipelineRun(ctx, "error", stage)
		return nil, err
	}

	r.transition(StateResponded)
	p.metrics.RecordPipelineRun(ctx, "ok", "")
	r.log.Info("chat completed",
		"reply_chars", len(resp.Text),
		"audio_bytes", len(resp.Audio),
		"mouth_cues", len(resp.Lipsync.MouthCues),
		"duration", time.Since(r.start),
	)
	return resp, nil
}

// run is the state of one in-flight request.
type run struct {
	p     *Pipeline
	id    string
	log   *slog.Logger
	state State
	start time.Time
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.log.Debug("pipeline state", "from", from.String(), "to", to.String())
	r.notify(to)
}

func (r *run) notify(s State) {
	if r.p.observer != nil {
		r.p.observer(r.id, s)
	}
}

// execute runs the stages in order. The workspace is released before it
// returns, whatever the outcome.
func (r *run) execute(ctx context.Context, input string) (*ChatResponse, error) {
	var ws *workspace.Workspace
	defer func() {
		if ws == nil {
			return
		}
		if err := ws.Close(); err != nil {
			r.log.Warn("pipeline: release workspace", "err", err)
		}
	}()

	// ── Stage 1: reply text ───────────────────────────────────────────────────

	var reply dialogue.Reply
	if err := r.stage(ctx, StageGenerate, func(ctx context.Context) error {
		var err error
		reply, err = r.p.stages.Generator.Generate(ctx, input)
		return err
	}); err != nil {
		return nil, err
	}

	// ── Stage 2: audio ────────────────────────────────────────────────────────

	var art speech.Artifact
	if err := r.stage(ctx, StageSynthesize, func(ctx context.Context) error {
		var err error
		art, err = r.p.stages.Synthesizer.Synthesize(ctx, reply.Text)
		return err
	}); err != nil {
		return nil, err
	}

	// ── Stage 3: persist and convert ──────────────────────────────────────────

	var wf lipsync.Waveform
	if err := r.stage(ctx, StageConvert, func(ctx context.Context) error {
		var err error
		ws, err = workspace.NewWithID(r.p.root, r.id)
		if err != nil {
			return &lipsync.ConversionError{RequestID: r.id, Err: err}
		}
		wf, err = r.p.stages.Converter.Convert(ctx, ws, art)
		return err
	}); err != nil {
		return nil, err
	}

	// ── Stage 4: mouth cues ───────────────────────────────────────────────────

	var tl *lipsync.Timeline
	if err := r.stage(ctx, StageExtract, func(ctx context.Context) error {
		var err error
		tl, err = r.p.stages.Extractor.Extract(ctx, ws, wf)
		return err
	}); err != nil {
		return nil, err
	}

	r.transition(StateAssembled)
	return &ChatResponse{
		Text:      reply.Text,
		Audio:     art.Data,
		Lipsync:   tl,
		RequestID: r.id,
	}, nil
}

// stage runs fn under the stage's timeout, span and duration metric.
func (r *run) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	r.transition(s.state())

	if d := r.p.timeouts.of(s); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	ctx, span := observe.RequestSpan(ctx, "pipeline."+string(s), r.id, observe.AttrStage.String(string(s)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.p.metrics.RecordStage(ctx, string(s), status, elapsed.Seconds())
	r.log.Debug("pipeline stage finished", "stage", string(s), "status", status, "duration", elapsed)

	if err != nil {
		return &StageError{Stage: s, RequestID: r.id, Err: err}
	}
	return nil
}
