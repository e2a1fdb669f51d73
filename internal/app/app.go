// Package app wires all talkback subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the chat pipeline and
// the HTTP surface from the config, Run serves requests until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRunner,
// WithMetrics, WithListener, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/dialogue"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/lipsync"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/pipeline"
	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/internal/server"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per upstream slot. Populated by
// main.go via the config registry. Both are required.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
}

// App owns all subsystem lifetimes and serves the chat API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or defaulted in New.
	runner   procexec.Runner
	metrics  *observe.Metrics
	registry *prometheus.Registry
	observer pipeline.Observer
	listener net.Listener

	// Subsystems, initialised in New.
	breakers []*resilience.CircuitBreaker
	pipeline *pipeline.Pipeline
	health   *health.Handler
	server   *server.Server
	http     *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRunner injects the process runner instead of an [procexec.ExecRunner].
func WithRunner(r procexec.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRegistry serves /metrics from reg instead of the default Prometheus
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithObserver forwards pipeline state transitions to fn.
func WithObserver(fn pipeline.Observer) Option {
	return func(a *App) { a.observer = fn }
}

// WithListener makes Run serve on ln instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates a new App by wiring together all subsystems.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: llm and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Circuit breakers ──────────────────────────────────────────────
	llmProvider, ttsProvider := a.guardProviders()

	// ── 2. Upstream stages ───────────────────────────────────────────────
	gen, syn, err := a.initUpstream(llmProvider, ttsProvider)
	if err != nil {
		return nil, err
	}

	// ── 3. Local tool stages ─────────────────────────────────────────────
	ffmpeg, err := cfg.Tools.FFmpegCommand()
	if err != nil {
		return nil, fmt.Errorf("app: ffmpeg command: %w", err)
	}
	rhubarb, err := cfg.Tools.RhubarbCommand()
	if err != nil {
		return nil, fmt.Errorf("app: rhubarb command: %w", err)
	}
	if a.runner == nil {
		a.runner = procexec.NewExecRunner(
			procexec.WithMaxProcs(cfg.Tools.MaxProcs),
			procexec.WithMetrics(a.metrics),
		)
	}

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	root := cfg.Pipeline.WorkspaceRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "talkback")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("app: create workspace root: %w", err)
	}
	st := cfg.Pipeline.StageTimeouts
	a.pipeline, err = pipeline.New(pipeline.Stages{
		Generator:   gen,
		Synthesizer: syn,
		Converter:   lipsync.NewConverter(a.runner, lipsync.WithFFmpeg(ffmpeg)),
		Extractor: lipsync.NewExtractor(a.runner,
			lipsync.WithRhubarb(rhubarb),
			lipsync.WithRecognizer(cfg.Tools.Recognizer),
		),
	},
		pipeline.WithTimeouts(pipeline.Timeouts{
			Generate:   st.Generate,
			Synthesize: st.Synthesize,
			Convert:    st.Convert,
			Extract:    st.Extract,
		}),
		pipeline.WithWorkspaceRoot(root),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithObserver(a.observer),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Readiness ─────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.Tool("ffmpeg", ffmpeg),
		health.Tool("rhubarb", rhubarb),
		health.Workspace(root),
	}
	for _, cb := range a.breakers {
		checkers = append(checkers, health.Breaker(cb))
	}
	a.health = health.New(checkers...)
	for name, err := range a.health.Check(ctx) {
		slog.Warn("readiness check failing at startup", "check", name, "err", err)
	}

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	var metricsHandler http.Handler = promhttp.Handler()
	if a.registry != nil {
		metricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
	}
	a.server = server.New(a.pipeline,
		server.WithCORSOrigin(cfg.Server.CORSOrigin),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithHealth(a.health),
		server.WithMetricsHandler(metricsHandler),
		server.WithMetrics(a.metrics),
	)
	a.http = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	a.closers = append(a.closers, a.http.Shutdown)

	slog.Info("app initialised",
		"llm", cfg.Providers.LLM.Name,
		"tts", cfg.Providers.TTS.Name,
		"workspace_root", root,
		"breakers", len(a.breakers),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// guardProviders wraps both providers in circuit breakers unless disabled.
func (a *App) guardProviders() (llm.Provider, tts.Provider) {
	rc := a.cfg.Resilience
	if rc.Disabled {
		return a.providers.LLM, a.providers.TTS
	}
	cbCfg := resilience.CircuitBreakerConfig{
		MaxFailures:  rc.MaxFailures,
		ResetTimeout: rc.ResetTimeout,
		HalfOpenMax:  rc.HalfOpenMax,
	}
	l := resilience.NewLLM(a.providers.LLM, a.cfg.Providers.LLM.Name, cbCfg, a.metrics)
	t := resilience.NewTTS(a.providers.TTS, a.cfg.Providers.TTS.Name, cbCfg, a.metrics)
	a.breakers = append(a.breakers, l.Breaker(), t.Breaker())
	return l, t
}

// initUpstream builds the dialogue generator and speech synthesizer.
func (a *App) initUpstream(l llm.Provider, t tts.Provider) (*dialogue.Generator, *speech.Synthesizer, error) {
	d := a.cfg.Dialogue
	gen, err := dialogue.NewGenerator(l,
		dialogue.WithParams(dialogue.Params{
			SystemPrompt:    d.Persona,
			Temperature:     d.Temperature,
			TopP:            d.TopP,
			TopK:            d.TopK,
			MaxTokens:       d.MaxOutputTokens,
			SafetyThreshold: d.SafetyThreshold,
		}),
		dialogue.WithProviderName(a.cfg.Providers.LLM.Name),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("app: init dialogue: %w", err)
	}

	s := a.cfg.Speech
	syn, err := speech.NewSynthesizer(t,
		tts.VoiceProfile{ID: s.VoiceID, Name: s.VoiceName, Provider: a.cfg.Providers.TTS.Name},
		speech.WithEncoding(audio.Encoding(s.Encoding)),
		speech.WithMaxBytes(s.MaxBytes),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("app: init speech: %w", err)
	}
	return gen, syn, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler. Useful for httptest.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Pipeline returns the chat pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Breakers returns the provider circuit breakers, LLM first.
func (a *App) Breakers() []*resilience.CircuitBreaker { return a.breakers }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. On cancellation in-flight requests get cfg.Server.ShutdownTimeout to
// finish and Run returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: drain http: %w", err)
		}
		return nil
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 15 * time.Second
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
