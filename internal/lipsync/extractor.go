package lipsync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/workspace"
)

// Rhubarb recognizers. Phonetic recognition works for any language.
const (
	RecognizerPhonetic     = "phonetic"
	RecognizerPocketSphinx = "pocketSphinx"
)

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithRhubarb sets the base extraction command. Extraction arguments are
// appended to it.
func WithRhubarb(cmd procexec.Command) ExtractorOption {
	return func(e *Extractor) { e.cmd = cmd }
}

// WithRecognizer selects the rhubarb recognizer. Default is phonetic.
func WithRecognizer(name string) ExtractorOption {
	return func(e *Extractor) { e.recognizer = name }
}

// WithExtractTolerance overrides DurationTolerance for the timeline coverage
// check.
func WithExtractTolerance(d time.Duration) ExtractorOption {
	return func(e *Extractor) { e.tolerance = d }
}

// Extractor produces mouth-cue timelines from waveforms.
type Extractor struct {
	runner     procexec.Runner
	cmd        procexec.Command
	recognizer string
	tolerance  time.Duration
}

// NewExtractor returns an Extractor that runs rhubarb through runner.
func NewExtractor(runner procexec.Runner, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		runner:     runner,
		cmd:        procexec.Command{Name: "rhubarb"},
		recognizer: RecognizerPhonetic,
		tolerance:  DurationTolerance,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs rhubarb on wf, writing <id>.json into ws, and returns the
// parsed and validated timeline.
func (e *Extractor) Extract(ctx context.Context, ws *workspace.Workspace, wf Waveform) (*Timeline, error) {
	fail := func(err error) (*Timeline, error) {
		return nil, &ExtractionError{RequestID: ws.ID(), Err: err}
	}
	if wf.Path == "" {
		return fail(fmt.Errorf("waveform has no path"))
	}

	out := ws.Path("json")
	cmd := e.cmd.With("-f", "json", "-o", out, wf.Path, "-r", e.recognizer)
	cmd.Dir = ws.Dir()
	if _, err := e.runner.Run(ctx, cmd); err != nil {
		return fail(err)
	}

	data, err := ws.Read("json")
	if err != nil {
		return fail(err)
	}
	tl, err := ParseTimeline(data)
	if err != nil {
		return fail(err)
	}
	if err := tl.Validate(wf, e.tolerance); err != nil {
		return fail(err)
	}
	// The workspace path is internal; only the file name is reported.
	tl.Metadata.SoundFile = filepath.Base(wf.Path)
	return tl, nil
}

// ParseTimeline decodes rhubarb's JSON export.
func ParseTimeline(data []byte) (*Timeline, error) {
	var raw struct {
		Metadata  *Metadata  `json:"metadata"`
		MouthCues []MouthCue `json:"mouthCues"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidTimeline, err)
	}
	if raw.MouthCues == nil {
		return nil, fmt.Errorf("%w: missing mouthCues", ErrInvalidTimeline)
	}
	tl := &Timeline{MouthCues: raw.MouthCues}
	if raw.Metadata != nil {
		tl.Metadata = *raw.Metadata
	}
	return tl, nil
}
