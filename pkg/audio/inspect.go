package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrEmpty is returned when an artefact decodes to zero samples.
var ErrEmpty = errors.New("audio: no samples")

// mp3FrameBytes is the size of one decoded go-mp3 sample frame. The decoder
// always emits 16-bit little-endian stereo.
const mp3FrameBytes = 4

// InspectMP3 decodes the MP3 stream in r far enough to report its duration.
// r must be seekable so that the decoder can determine the stream length
// without decoding every frame.
func InspectMP3(r io.ReadSeeker) (Info, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Info{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return Info{}, fmt.Errorf("audio: decode mp3: invalid sample rate %d", rate)
	}
	length := dec.Length()
	if length < 0 {
		return Info{}, errors.New("audio: decode mp3: stream length unknown")
	}
	if length == 0 {
		return Info{}, ErrEmpty
	}
	frames := length / mp3FrameBytes
	return Info{
		Duration:   samplesToDuration(frames, rate),
		SampleRate: rate,
		Channels:   2,
	}, nil
}

// InspectWAV decodes the PCM WAV stream in r and reports its duration and peak
// amplitude.
func InspectWAV(r io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return Info{}, errors.New("audio: decode wav: missing format chunk")
	}
	channels := buf.Format.NumChannels
	frames := int64(len(buf.Data) / channels)

	info := Info{
		Duration:   samplesToDuration(frames, buf.Format.SampleRate),
		SampleRate: buf.Format.SampleRate,
		Channels:   channels,
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	fullScale := float64(int64(1) << (bitDepth - 1))
	var peak int
	for _, s := range buf.Data {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	info.Peak = float64(peak) / fullScale
	if info.Peak > 1 {
		info.Peak = 1
	}
	return info, nil
}

// WithinTolerance reports whether a and b differ by at most tol.
func WithinTolerance(a, b, tol time.Duration) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func samplesToDuration(frames int64, sampleRate int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
