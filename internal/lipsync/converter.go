// Package lipsync derives mouth-cue timelines from synthesized speech. The
// Converter transcodes the delivered audio into a PCM waveform with ffmpeg,
// and the Extractor runs rhubarb over that waveform.
//
// Both stages work inside a request workspace and name every file after the
// request ID, so concurrent requests never touch each other's files.
package lipsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/workspace"
	"github.com/MrWong99/talkback/pkg/audio"
)

// DurationTolerance is the largest accepted difference between the duration
// of a source artifact and its converted waveform, and between a waveform and
// the end of its timeline.
const DurationTolerance = 100 * time.Millisecond

// SilenceThreshold is the normalised peak amplitude at or below which a
// waveform counts as silent.
const SilenceThreshold = 1e-3

// ErrDurationMismatch means the converted waveform is longer or shorter than
// its source.
var ErrDurationMismatch = errors.New("lipsync: converted duration does not match source")

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithFFmpeg sets the base transcoder command. Conversion arguments are
// appended to it.
func WithFFmpeg(cmd procexec.Command) ConverterOption {
	return func(c *Converter) { c.cmd = cmd }
}

// WithConvertTolerance overrides DurationTolerance for the source/waveform
// duration check.
func WithConvertTolerance(d time.Duration) ConverterOption {
	return func(c *Converter) { c.tolerance = d }
}

// Converter transcodes audio artifacts into wav waveforms.
type Converter struct {
	runner    procexec.Runner
	cmd       procexec.Command
	tolerance time.Duration

	// measureSource measures the source artifact. Replaced in tests.
	measureSource func(art speech.Artifact) (time.Duration, error)
}

// NewConverter returns a Converter that runs ffmpeg through runner.
func NewConverter(runner procexec.Runner, opts ...ConverterOption) *Converter {
	c := &Converter{
		runner:      runner,
		cmd:         procexec.Command{Name: "ffmpeg"},
		tolerance:   DurationTolerance,
		measureSource: measureSource,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Convert persists art into ws and produces the matching waveform
// <id>.wav next to it. A wav artifact is stored as-is without transcoding.
func (c *Converter) Convert(ctx context.Context, ws *workspace.Workspace, art speech.Artifact) (Waveform, error) {
	fail := func(err error) (Waveform, error) {
		return Waveform{}, &ConversionError{RequestID: ws.ID(), Err: err}
	}
	if len(art.Data) == 0 {
		return fail(errors.New("empty audio artifact"))
	}
	if !art.Encoding.IsValid() {
		return fail(fmt.Errorf("unsupported encoding %q", art.Encoding))
	}

	if art.Encoding == audio.EncodingWAV {
		out, err := ws.Write(string(audio.EncodingWAV), art.Data)
		if err != nil {
			return fail(err)
		}
		return c.inspect(out, fail)
	}

	in, err := ws.Write(string(art.Encoding), art.Data)
	if err != nil {
		return fail(err)
	}
	out := ws.Path(string(audio.EncodingWAV))

	cmd := c.cmd.With("-y", "-i", in, out)
	cmd.Dir = ws.Dir()
	if _, err := c.runner.Run(ctx, cmd); err != nil {
		return fail(err)
	}

	wf, err := c.inspect(out, fail)
	if err != nil {
		return wf, err
	}

	src, err := c.measureSource(art)
	if err != nil {
		// ffmpeg accepted the input; our decoder is stricter on some streams.
		observe.Logger(ctx).Debug("lipsync: skipping duration check, source not decodable",
			"request_id", ws.ID(), "err", err)
		return wf, nil
	}
	if !audio.WithinTolerance(src, wf.Duration, c.tolerance) {
		return fail(fmt.Errorf("%w: source %v, waveform %v", ErrDurationMismatch, src, wf.Duration))
	}
	return wf, nil
}

func (c *Converter) inspect(path string, fail func(error) (Waveform, error)) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return fail(fmt.Errorf("open waveform: %w", err))
	}
	defer f.Close()

	info, err := audio.InspectWAV(f)
	if err != nil {
		return fail(err)
	}
	return Waveform{
		Path:     path,
		Duration: info.Duration,
		Silent:   info.Silent(SilenceThreshold),
	}, nil
}

func measureSource(art speech.Artifact) (time.Duration, error) {
	switch art.Encoding {
	case audio.EncodingMP3:
		info, err := audio.InspectMP3(bytes.NewReader(art.Data))
		if err != nil {
			return 0, err
		}
		return info.Duration, nil
	case audio.EncodingWAV:
		info, err := audio.InspectWAV(bytes.NewReader(art.Data))
		if err != nil {
			return 0, err
		}
		return info.Duration, nil
	}
	return 0, fmt.Errorf("no decoder for %q", art.Encoding)
}
