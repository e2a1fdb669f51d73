// Package audio inspects the audio artefacts that flow through the talkback
// pipeline: the compressed delivery encoding returned by the speech provider
// and the raw PCM waveform consumed by lip-sync analysis.
//
// Decoding is delegated to github.com/hajimehoshi/go-mp3 and
// github.com/go-audio/wav. Nothing in this package touches the filesystem;
// callers hand in readers.
package audio

import "time"

// Encoding names the container/codec of an audio artefact.
type Encoding string

const (
	// EncodingMP3 is the compressed delivery encoding produced by the speech
	// provider and returned to the caller.
	EncodingMP3 Encoding = "mp3"

	// EncodingWAV is the raw PCM waveform encoding required by lip-sync
	// extraction.
	EncodingWAV Encoding = "wav"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingMP3 || e == EncodingWAV
}

// Info describes a decoded audio artefact.
type Info struct {
	// Duration is the playback length of the artefact.
	Duration time.Duration

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// Peak is the absolute peak sample amplitude normalised to [0, 1].
	// Zero means digital silence. Only populated by [InspectWAV].
	Peak float64
}

// Silent reports whether the artefact never rises above threshold
// (normalised amplitude). A zero-length artefact is always silent.
func (i Info) Silent(threshold float64) bool {
	return i.Duration <= 0 || i.Peak <= threshold
}
