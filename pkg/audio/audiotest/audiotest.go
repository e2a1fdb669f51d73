// Package audiotest writes small PCM WAV fixtures for tests that exercise
// waveform inspection or lip-sync extraction without a real transcoder.
package audiotest

import (
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DefaultSampleRate is the sample rate used by [WriteTone] and [WriteSilence].
const DefaultSampleRate = 16000

// WriteTone writes a mono 16-bit WAV file at path containing a sine tone of
// the given duration. amplitude is normalised to [0, 1].
func WriteTone(path string, d time.Duration, amplitude float64) error {
	n := int(d * DefaultSampleRate / time.Second)
	samples := make([]int, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/DefaultSampleRate)
		samples[i] = int(v * 32767)
	}
	return write(path, samples)
}

// WriteSilence writes a mono 16-bit WAV file at path containing d of digital
// silence.
func WriteSilence(path string, d time.Duration) error {
	return write(path, make([]int, int(d*DefaultSampleRate/time.Second)))
}

func write(path string, samples []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audiotest: create %q: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, DefaultSampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: DefaultSampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audiotest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audiotest: finalise: %w", err)
	}
	return nil
}
