package lipsync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/procexec"
	"github.com/MrWong99/talkback/internal/procexec/mock"
	"github.com/MrWong99/talkback/internal/speech"
	"github.com/MrWong99/talkback/internal/workspace"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/audiotest"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// fakeFFmpeg writes a tone of length d to the output path (the last argument).
func fakeFFmpeg(d time.Duration) func(context.Context, procexec.Command) (*procexec.Result, error) {
	return func(_ context.Context, cmd procexec.Command) (*procexec.Result, error) {
		out := cmd.Args[len(cmd.Args)-1]
		if err := audiotest.WriteTone(out, d, 0.5); err != nil {
			return nil, err
		}
		return &procexec.Result{}, nil
	}
}

func fixedDuration(d time.Duration) func(speech.Artifact) (time.Duration, error) {
	return func(speech.Artifact) (time.Duration, error) { return d, nil }
}

var mp3Artifact = speech.Artifact{Data: []byte("ID3-not-really-mp3"), Encoding: audio.EncodingMP3}

func TestConvert_WritesRequestScopedFiles(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	runner := &mock.Runner{Handler: fakeFFmpeg(1500 * time.Millisecond)}
	c := NewConverter(runner)
	c.measureSource = fixedDuration(1520 * time.Millisecond)

	wf, err := c.Convert(context.Background(), ws, mp3Artifact)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if wf.Path != ws.Path("wav") {
		t.Errorf("waveform path = %q, want %q", wf.Path, ws.Path("wav"))
	}
	if !audio.WithinTolerance(wf.Duration, 1500*time.Millisecond, 5*time.Millisecond) {
		t.Errorf("duration = %v", wf.Duration)
	}
	if wf.Silent {
		t.Error("tone reported as silent")
	}

	src, err := os.ReadFile(ws.Path("mp3"))
	if err != nil || string(src) != string(mp3Artifact.Data) {
		t.Errorf("source not persisted: %q, %v", src, err)
	}

	calls := runner.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 process, got %d", len(calls))
	}
	want := []string{"-y", "-i", ws.Path("mp3"), ws.Path("wav")}
	if calls[0].Name != "ffmpeg" || strings.Join(calls[0].Args, " ") != strings.Join(want, " ") {
		t.Errorf("command = %s", calls[0])
	}
	for _, a := range calls[0].Args[2:] {
		if !strings.Contains(filepath.Base(a), ws.ID()) {
			t.Errorf("argument %q does not embed request id", a)
		}
	}
}

func TestConvert_CustomCommandPrefix(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	runner := &mock.Runner{Handler: fakeFFmpeg(time.Second)}
	c := NewConverter(runner, WithFFmpeg(procexec.Command{Name: "/opt/ffmpeg", Args: []string{"-hide_banner"}}))
	c.measureSource = fixedDuration(time.Second)

	if _, err := c.Convert(context.Background(), ws, mp3Artifact); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got := runner.Calls()[0]
	if got.Name != "/opt/ffmpeg" || got.Args[0] != "-hide_banner" || got.Args[1] != "-y" {
		t.Errorf("command = %s", got)
	}
}

func TestConvert_DurationMismatch(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	c := NewConverter(&mock.Runner{Handler: fakeFFmpeg(time.Second)})
	c.measureSource = fixedDuration(2 * time.Second)

	_, err := c.Convert(context.Background(), ws, mp3Artifact)
	var ce *ConversionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConversionError", err)
	}
	if !errors.Is(err, ErrDurationMismatch) {
		t.Errorf("err = %v, want ErrDurationMismatch", err)
	}
	if ce.RequestID != ws.ID() {
		t.Errorf("request id = %q", ce.RequestID)
	}
}

func TestConvert_UndecodableSourceSkipsCheck(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	c := NewConverter(&mock.Runner{Handler: fakeFFmpeg(time.Second)})
	c.measureSource = func(speech.Artifact) (time.Duration, error) { return 0, errors.New("bad frame") }

	if _, err := c.Convert(context.Background(), ws, mp3Artifact); err != nil {
		t.Fatalf("Convert: %v", err)
	}
}

func TestConvert_ToolFailures(t *testing.T) {
	t.Parallel()
	notFound := &procexec.ProcessExecutionError{Name: "ffmpeg", ExitCode: -1, Err: exec.ErrNotFound}
	malformed := &procexec.ProcessExecutionError{Name: "ffmpeg", ExitCode: 1, Stderr: "Invalid data found when processing input"}
	tests := []struct {
		name    string
		handler func(context.Context, procexec.Command) (*procexec.Result, error)
		art     speech.Artifact
		wantErr error
	}{
		{
			name:    "tool missing",
			handler: func(context.Context, procexec.Command) (*procexec.Result, error) { return nil, notFound },
			art:     mp3Artifact,
			wantErr: exec.ErrNotFound,
		},
		{
			name:    "non-zero exit",
			handler: func(context.Context, procexec.Command) (*procexec.Result, error) { return nil, malformed },
			art:     mp3Artifact,
			wantErr: malformed,
		},
		{
			name: "unreadable output",
			handler: func(_ context.Context, cmd procexec.Command) (*procexec.Result, error) {
				return &procexec.Result{}, os.WriteFile(cmd.Args[len(cmd.Args)-1], []byte("garbage"), 0o600)
			},
			art: mp3Artifact,
		},
		{
			name: "no output written",
			handler: func(context.Context, procexec.Command) (*procexec.Result, error) {
				return &procexec.Result{}, nil
			},
			art:     mp3Artifact,
			wantErr: os.ErrNotExist,
		},
		{
			name: "empty artifact",
			art:  speech.Artifact{Encoding: audio.EncodingMP3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws := newWorkspace(t)
			c := NewConverter(&mock.Runner{Handler: tt.handler})
			c.measureSource = fixedDuration(time.Second)

			_, err := c.Convert(context.Background(), ws, tt.art)
			var ce *ConversionError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v (%T), want *ConversionError", err, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestConvert_WavArtifactSkipsTranscoder(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	tmp := filepath.Join(t.TempDir(), "src.wav")
	if err := audiotest.WriteTone(tmp, 800*time.Millisecond, 0.3); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		t.Fatal(err)
	}
	runner := &mock.Runner{}
	wf, err := NewConverter(runner).Convert(context.Background(), ws, speech.Artifact{Data: data, Encoding: audio.EncodingWAV})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if runner.CallCount() != 0 {
		t.Errorf("transcoder ran %d times for a wav artifact", runner.CallCount())
	}
	if !audio.WithinTolerance(wf.Duration, 800*time.Millisecond, 5*time.Millisecond) {
		t.Errorf("duration = %v", wf.Duration)
	}
}

// TestConvert_RelativeWorkspaceRoot runs a real child process inside a
// workspace created under a relative root. The stand-in transcoder only
// succeeds when its input path resolves from the workspace directory.
func TestConvert_RelativeWorkspaceRoot(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	tone := filepath.Join(t.TempDir(), "tone.wav")
	if err := audiotest.WriteTone(tone, 500*time.Millisecond, 0.5); err != nil {
		t.Fatal(err)
	}
	t.Chdir(t.TempDir())

	ws, err := workspace.New(filepath.Join("rel", "scratch"))
	if err != nil {
		t.Fatalf("workspace.New: %v", err)
	}
	defer ws.Close()

	// argv after the script: $0=tone -y -i $3=in $4=out
	ffmpeg := procexec.Command{Name: "sh", Args: []string{"-c", `test -f "$3" && cp "$0" "$4"`, tone}}
	c := NewConverter(procexec.NewExecRunner(), WithFFmpeg(ffmpeg))

	wf, err := c.Convert(context.Background(), ws, mp3Artifact)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !filepath.IsAbs(wf.Path) {
		t.Errorf("waveform path %q is not absolute", wf.Path)
	}
}

// ---- Extractor ----

// fakeRhubarb writes tl as JSON to the path following "-o".
func fakeRhubarb(tl any) func(context.Context, procexec.Command) (*procexec.Result, error) {
	return func(_ context.Context, cmd procexec.Command) (*procexec.Result, error) {
		for i, a := range cmd.Args {
			if a == "-o" && i+1 < len(cmd.Args) {
				data, err := json.Marshal(tl)
				if err != nil {
					return nil, err
				}
				return &procexec.Result{}, os.WriteFile(cmd.Args[i+1], data, 0o600)
			}
		}
		return nil, errors.New("no -o argument")
	}
}

func goodTimeline(soundFile string) Timeline {
	return Timeline{
		Metadata: Metadata{SoundFile: soundFile, Duration: 1.5},
		MouthCues: []MouthCue{
			{Start: 0, End: 0.2, Value: "X"},
			{Start: 0.2, End: 0.55, Value: "B"},
			{Start: 0.55, End: 1.1, Value: "C"},
			{Start: 1.1, End: 1.5, Value: "X"},
		},
	}
}

func TestExtract_ParsesTimeline(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	wf := Waveform{Path: ws.Path("wav"), Duration: 1500 * time.Millisecond}
	runner := &mock.Runner{Handler: fakeRhubarb(goodTimeline(wf.Path))}

	tl, err := NewExtractor(runner).Extract(context.Background(), ws, wf)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(tl.MouthCues) != 4 || tl.MouthCues[1].Value != "B" {
		t.Errorf("cues = %+v", tl.MouthCues)
	}
	if tl.Metadata.SoundFile != ws.ID()+".wav" {
		t.Errorf("sound file = %q, want bare file name", tl.Metadata.SoundFile)
	}
	if tl.Duration() != 1500*time.Millisecond {
		t.Errorf("duration = %v", tl.Duration())
	}

	call := runner.Calls()[0]
	want := []string{"-f", "json", "-o", ws.Path("json"), wf.Path, "-r", "phonetic"}
	if call.Name != "rhubarb" || strings.Join(call.Args, " ") != strings.Join(want, " ") {
		t.Errorf("command = %s", call)
	}
}

func TestExtract_Failures(t *testing.T) {
	t.Parallel()
	toolErr := &procexec.ProcessExecutionError{Name: "rhubarb", ExitCode: 1, Stderr: "Error processing file"}
	tests := []struct {
		name    string
		wf      Waveform
		handler func(context.Context, procexec.Command) (*procexec.Result, error)
		wantErr error
	}{
		{
			name:    "tool fails",
			wf:      Waveform{Duration: time.Second},
			handler: func(context.Context, procexec.Command) (*procexec.Result, error) { return nil, toolErr },
			wantErr: toolErr,
		},
		{
			name: "not json",
			wf:   Waveform{Duration: time.Second},
			handler: func(_ context.Context, cmd procexec.Command) (*procexec.Result, error) {
				return &procexec.Result{}, os.WriteFile(cmd.Args[3], []byte("mouthCues: nope"), 0o600)
			},
			wantErr: ErrInvalidTimeline,
		},
		{
			name:    "no output file",
			wf:      Waveform{Duration: time.Second},
			handler: func(context.Context, procexec.Command) (*procexec.Result, error) { return &procexec.Result{}, nil },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "zero cues for audible audio",
			wf:      Waveform{Duration: time.Second},
			handler: fakeRhubarb(Timeline{MouthCues: []MouthCue{}}),
			wantErr: ErrNoCues,
		},
		{
			name:    "missing mouthCues",
			wf:      Waveform{Duration: time.Second},
			handler: fakeRhubarb(map[string]any{"metadata": map[string]any{"duration": 1}}),
			wantErr: ErrInvalidTimeline,
		},
		{
			name: "unknown shape",
			wf:   Waveform{Duration: 500 * time.Millisecond},
			handler: fakeRhubarb(Timeline{MouthCues: []MouthCue{
				{Start: 0, End: 0.5, Value: "Q"},
			}}),
			wantErr: ErrInvalidTimeline,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws := newWorkspace(t)
			tt.wf.Path = ws.Path("wav")
			_, err := NewExtractor(&mock.Runner{Handler: tt.handler}).Extract(context.Background(), ws, tt.wf)
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("err = %v (%T), want *ExtractionError", err, err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want wrapping %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtract_SilentAudioMayHaveNoCues(t *testing.T) {
	t.Parallel()
	ws := newWorkspace(t)
	wf := Waveform{Path: ws.Path("wav"), Duration: time.Second, Silent: true}
	runner := &mock.Runner{Handler: fakeRhubarb(Timeline{MouthCues: []MouthCue{}})}

	tl, err := NewExtractor(runner).Extract(context.Background(), ws, wf)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(tl.MouthCues) != 0 {
		t.Errorf("cues = %+v", tl.MouthCues)
	}
}

func TestTimelineValidate(t *testing.T) {
	t.Parallel()
	wf := Waveform{Duration: 1500 * time.Millisecond}
	tests := []struct {
		name    string
		cues    []MouthCue
		wantErr bool
	}{
		{"valid", goodTimeline("").MouthCues, false},
		{"late first cue", []MouthCue{{Start: 0.1, End: 1.5, Value: "X"}}, true},
		{"overlap", []MouthCue{{0, 0.8, "X"}, {0.5, 1.5, "A"}}, true},
		{"reversed", []MouthCue{{0, 0.8, "X"}, {0.8, 0.7, "A"}, {0.7, 1.5, "X"}}, true},
		{"gap", []MouthCue{{0, 0.5, "X"}, {0.7, 1.5, "A"}}, true},
		{"rounding at boundary", []MouthCue{{0, 0.3, "X"}, {0.3 + 5e-7, 1.5, "A"}}, false},
		{"bad shape", []MouthCue{{0, 1.5, "x"}}, true},
		{"too short", []MouthCue{{0, 1.0, "X"}}, true},
		{"within tolerance", []MouthCue{{0, 0.7, "X"}, {0.7, 1.45, "D"}}, false},
		{"all extended shapes", []MouthCue{{0, 0.2, "G"}, {0.2, 0.4, "H"}, {0.4, 1.5, "F"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tl := &Timeline{MouthCues: tt.cues}
			err := tl.Validate(wf, DurationTolerance)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeline_JSONShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(goodTimeline("abc.wav"))
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"metadata":{"soundFile":"abc.wav","duration":1.5}`, `"mouthCues":[{"start":0,"end":0.2,"value":"X"}`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}

// TestConcurrentRequestsStayIsolated runs several conversion + extraction
// pairs in parallel, each with its own tone length, and checks that every
// timeline matches its own waveform.
func TestConcurrentRequestsStayIsolated(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	runner := &mock.Runner{Handler: func(ctx context.Context, cmd procexec.Command) (*procexec.Result, error) {
		if cmd.Name == "ffmpeg" {
			// The request's tone length is encoded in the source file.
			src, err := os.ReadFile(cmd.Args[2])
			if err != nil {
				return nil, err
			}
			d, err := time.ParseDuration(string(src))
			if err != nil {
				return nil, err
			}
			return fakeFFmpeg(d)(ctx, cmd)
		}
		wav := cmd.Args[4]
		f, err := os.Open(wav)
		if err != nil {
			return nil, err
		}
		info, err := audio.InspectWAV(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		end := info.Duration.Seconds()
		return fakeRhubarb(Timeline{
			Metadata:  Metadata{SoundFile: wav, Duration: end},
			MouthCues: []MouthCue{{0, end / 2, "B"}, {end / 2, end, "X"}},
		})(ctx, cmd)
	}}

	conv := NewConverter(runner)
	conv.measureSource = func(art speech.Artifact) (time.Duration, error) {
		return time.ParseDuration(string(art.Data))
	}
	ext := NewExtractor(runner)

	lengths := []time.Duration{300 * time.Millisecond, 700 * time.Millisecond, 1100 * time.Millisecond, 1900 * time.Millisecond}
	var wg sync.WaitGroup
	for _, d := range lengths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := workspace.New(root)
			if err != nil {
				t.Errorf("workspace.New: %v", err)
				return
			}
			defer ws.Close()

			wf, err := conv.Convert(context.Background(), ws, speech.Artifact{Data: []byte(d.String()), Encoding: audio.EncodingMP3})
			if err != nil {
				t.Errorf("Convert(%v): %v", d, err)
				return
			}
			tl, err := ext.Extract(context.Background(), ws, wf)
			if err != nil {
				t.Errorf("Extract(%v): %v", d, err)
				return
			}
			if !audio.WithinTolerance(tl.Duration(), d, 5*time.Millisecond) {
				t.Errorf("timeline for %v lasts %v", d, tl.Duration())
			}
		}()
	}
	wg.Wait()
}

// TestRoundTripWithRealTools transcodes a generated tone to mp3 and back with
// the real ffmpeg binary. It checks the waveform duration against the tone.
func TestRoundTripWithRealTools(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	t.Parallel()

	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	if err := audiotest.WriteTone(tone, 2*time.Second, 0.5); err != nil {
		t.Fatal(err)
	}
	runner := procexec.NewExecRunner()
	encoded := filepath.Join(dir, "tone.mp3")
	if _, err := runner.Run(context.Background(), procexec.Command{
		Name: "ffmpeg", Args: []string{"-y", "-loglevel", "error", "-i", tone, encoded},
	}); err != nil {
		t.Skipf("ffmpeg cannot encode mp3 here: %v", err)
	}
	data, err := os.ReadFile(encoded)
	if err != nil {
		t.Fatal(err)
	}

	ws := newWorkspace(t)
	wf, err := NewConverter(runner).Convert(context.Background(), ws, speech.Artifact{Data: data, Encoding: audio.EncodingMP3})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !audio.WithinTolerance(wf.Duration, 2*time.Second, DurationTolerance) {
		t.Errorf("waveform lasts %v, want about 2s", wf.Duration)
	}
}
