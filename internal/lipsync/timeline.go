package lipsync

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Timing values in rhubarb output are rounded to centiseconds.
const timeEpsilon = 1e-6

// Waveform is the raw PCM file derived from one audio artifact.
type Waveform struct {
	// Path of the wav file inside the request workspace.
	Path string

	// Duration of the decoded waveform.
	Duration time.Duration

	// Silent is true when the waveform carries no audible signal.
	Silent bool
}

// Metadata mirrors the metadata block of rhubarb's JSON export.
type Metadata struct {
	SoundFile string  `json:"soundFile"`
	Duration  float64 `json:"duration"`
}

// MouthCue is one mouth shape held from Start to End, in seconds.
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

// Timeline is the ordered sequence of mouth cues for one waveform. Its JSON
// form is rhubarb's export format.
type Timeline struct {
	Metadata  Metadata   `json:"metadata"`
	MouthCues []MouthCue `json:"mouthCues"`
}

// Duration returns the end of the last cue.
func (t *Timeline) Duration() time.Duration {
	if len(t.MouthCues) == 0 {
		return 0
	}
	return secondsToDuration(t.MouthCues[len(t.MouthCues)-1].End)
}

// ValidShape reports whether v is one of rhubarb's mouth shapes: A–F, the
// extended shapes G and H, or X for rest.
func ValidShape(v string) bool {
	if len(v) != 1 {
		return false
	}
	c := v[0]
	return (c >= 'A' && c <= 'H') || c == 'X'
}

var (
	// ErrNoCues is returned for an empty timeline of audible audio.
	ErrNoCues = errors.New("lipsync: timeline has no mouth cues")

	// ErrInvalidTimeline wraps every structural problem found by Validate.
	ErrInvalidTimeline = errors.New("lipsync: invalid timeline")
)

// Validate checks that t is a well-formed timeline for wf: cues contiguous
// (no overlaps or gaps), the first starting at zero, every shape known, and the
// last ending within tolerance of the waveform duration. A timeline without
// cues is accepted only for silent or zero-length audio.
func (t *Timeline) Validate(wf Waveform, tolerance time.Duration) error {
	if len(t.MouthCues) == 0 {
		if wf.Duration > 0 && !wf.Silent {
			return ErrNoCues
		}
		return nil
	}

	prevEnd := 0.0
	for i, c := range t.MouthCues {
		if !ValidShape(c.Value) {
			return fmt.Errorf("%w: cue %d has unknown shape %q", ErrInvalidTimeline, i, c.Value)
		}
		if math.IsNaN(c.Start) || math.IsNaN(c.End) || c.Start < 0 {
			return fmt.Errorf("%w: cue %d has invalid start %v", ErrInvalidTimeline, i, c.Start)
		}
		if c.End < c.Start {
			return fmt.Errorf("%w: cue %d ends (%.3f) before it starts (%.3f)", ErrInvalidTimeline, i, c.End, c.Start)
		}
		if i == 0 && c.Start > timeEpsilon {
			return fmt.Errorf("%w: first cue starts at %.3f, not 0", ErrInvalidTimeline, c.Start)
		}
		if c.Start < prevEnd-timeEpsilon {
			return fmt.Errorf("%w: cue %d starts at %.3f before previous cue ends at %.3f", ErrInvalidTimeline, i, c.Start, prevEnd)
		}
		if i > 0 && c.Start > prevEnd+timeEpsilon {
			return fmt.Errorf("%w: gap between %.3f and %.3f before cue %d", ErrInvalidTimeline, prevEnd, c.Start, i)
		}
		prevEnd = c.End
	}

	if wf.Duration > 0 {
		if got := t.Duration(); absDuration(got-wf.Duration) > tolerance {
			return fmt.Errorf("%w: cues end at %v, waveform lasts %v", ErrInvalidTimeline, got, wf.Duration)
		}
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
