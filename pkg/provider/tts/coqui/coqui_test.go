package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// ---- test helpers ----

// buildTestWAV returns a minimal mono 16 kHz PCM RIFF/WAVE file around pcm.
func buildTestWAV(pcm []byte) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 44, 44+len(pcm))
	copy(buf[0:], "RIFF")
	le.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	le.PutUint32(buf[16:], 16)
	le.PutUint16(buf[20:], 1)     // PCM
	le.PutUint16(buf[22:], 1)     // mono
	le.PutUint32(buf[24:], 16000) // sample rate
	le.PutUint32(buf[28:], 32000) // byte rate
	le.PutUint16(buf[32:], 2)     // block align
	le.PutUint16(buf[34:], 16)    // bits per sample
	copy(buf[36:], "data")
	le.PutUint32(buf[40:], uint32(len(pcm)))
	return append(buf, pcm...)
}

// recorder captures the last synthesis request seen by a fake server.
type recorder struct {
	mu     sync.Mutex
	method string
	path   string
	query  map[string]string
	body   xttsRequest
}

func (r *recorder) capture(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.method = req.Method
	r.path = req.URL.Path
	r.query = map[string]string{}
	for k := range req.URL.Query() {
		r.query[k] = req.URL.Query().Get(k)
	}
	if req.Method == http.MethodPost {
		_ = json.NewDecoder(req.Body).Decode(&r.body)
	}
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func readAll(t *testing.T, rc io.ReadCloser) ([]byte, error) {
	t.Helper()
	defer rc.Close()
	return io.ReadAll(rc)
}

// ---- New ----

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
	if _, err := New("http://localhost:5002", WithAPIMode("grpc")); err == nil {
		t.Error("expected error for unknown api mode")
	}

	p := mustNew(t, "http://localhost:5002/", WithLanguage("de"), WithTimeout(5*time.Second))
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q, want trailing slash trimmed", p.serverURL)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("default api mode = %q, want %q", p.apiMode, APIModeStandard)
	}
	if p.language != "de" {
		t.Errorf("language = %q, want de", p.language)
	}
	if p.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", p.httpClient.Timeout)
	}
}

// ---- Synthesize ----

func TestSynthesize_Standard(t *testing.T) {
	t.Parallel()

	wav := buildTestWAV([]byte{1, 0, 2, 0, 3, 0})
	var rec recorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.capture(r)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithLanguage("en"))
	rc, err := p.Synthesize(context.Background(), "Hello there.", tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	got, err := readAll(t, rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(wav) {
		t.Errorf("body mismatch: got %d bytes, want %d", len(got), len(wav))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodGet || rec.path != apiTTSEndpoint {
		t.Errorf("request = %s %s, want GET %s", rec.method, rec.path, apiTTSEndpoint)
	}
	if rec.query["text"] != "Hello there." {
		t.Errorf("text = %q", rec.query["text"])
	}
	if rec.query["speaker_id"] != "p225" {
		t.Errorf("speaker_id = %q, want p225", rec.query["speaker_id"])
	}
	if rec.query["language_id"] != "en" {
		t.Errorf("language_id = %q, want en", rec.query["language_id"])
	}
}

func TestSynthesize_StandardWithoutVoice(t *testing.T) {
	t.Parallel()

	var rec recorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.capture(r)
		_, _ = w.Write(buildTestWAV(nil))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	rc, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := readAll(t, rc); err != nil {
		t.Fatalf("read: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.query["speaker_id"]; ok {
		t.Error("speaker_id should be omitted without a voice ID")
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()

	wav := buildTestWAV([]byte{9, 9})
	var rec recorder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.capture(r)
		_, _ = w.Write(wav)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("fr"))
	rc, err := p.Synthesize(context.Background(), "Bonjour.", tts.VoiceProfile{ID: "Claribel Dervla"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := readAll(t, rc); err != nil {
		t.Fatalf("read: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodPost || rec.path != xttsEndpoint {
		t.Errorf("request = %s %s, want POST %s", rec.method, rec.path, xttsEndpoint)
	}
	want := xttsRequest{Text: "Bonjour.", SpeakerWav: "Claribel Dervla", Language: "fr"}
	if rec.body != want {
		t.Errorf("body = %+v, want %+v", rec.body, want)
	}
}

func TestSynthesize_XTTSRequiresVoice(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://127.0.0.1:1", WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{Name: "nameless"}); err == nil {
		t.Fatal("expected error without voice ID")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()

	p := mustNew(t, "http://127.0.0.1:1")
	if _, err := p.Synthesize(context.Background(), "  ", tts.VoiceProfile{ID: "x"}); err == nil {
		t.Fatal("expected error for blank text")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	_, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{ID: "x"})
	if err == nil {
		t.Fatal("expected error on 500")
	}
	for _, want := range []string{"coqui:", "500", "model not loaded"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestSynthesize_NotWAV(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"error":"speaker not found in the studio list"}`)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	rc, err := p.Synthesize(context.Background(), "Hi.", tts.VoiceProfile{ID: "x"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := readAll(t, rc); !errors.Is(err, ErrNotWAV) {
		t.Errorf("read error = %v, want ErrNotWAV", err)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.Synthesize(ctx, "Hi.", tts.VoiceProfile{ID: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

// ---- ListVoices ----

func TestListVoices_XTTS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != studioSpeakersEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"speaker_bob": {"speaker_embedding": []}, "speaker_alice": {}}`)
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].ID != "speaker_alice" || voices[1].ID != "speaker_bob" {
		t.Errorf("voices not sorted: %q, %q", voices[0].ID, voices[1].ID)
	}
	for _, v := range voices {
		if v.Provider != "coqui" || v.Metadata["type"] != "studio" {
			t.Errorf("unexpected voice %+v", v)
		}
	}
}

func TestListVoices_Standard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		details string
		wantIDs []string
		typ     string
	}{
		{
			name:    "multi speaker",
			details: `{"model_name": "tts_models/en/vctk/vits", "speakers": ["p236", "p225"]}`,
			wantIDs: []string{"p225", "p236"},
			typ:     "speaker",
		},
		{
			name:    "single speaker",
			details: `{"model_name": "tts_models/en/ljspeech/tacotron2-DDC"}`,
			wantIDs: []string{"tts_models/en/ljspeech/tacotron2-DDC"},
			typ:     "single-speaker",
		},
		{
			name:    "unnamed model",
			details: `{}`,
			wantIDs: []string{"default"},
			typ:     "single-speaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != detailsEndpoint {
					http.NotFound(w, r)
					return
				}
				_, _ = io.WriteString(w, tt.details)
			}))
			defer srv.Close()

			voices, err := mustNew(t, srv.URL).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.wantIDs) {
				t.Fatalf("got %d voices, want %d", len(voices), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if voices[i].ID != id {
					t.Errorf("voices[%d].ID = %q, want %q", i, voices[i].ID, id)
				}
				if voices[i].Metadata["type"] != tt.typ {
					t.Errorf("voices[%d] type = %q, want %q", i, voices[i].Metadata["type"], tt.typ)
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := mustNew(t, srv.URL).ListVoices(context.Background())
	if err == nil {
		t.Fatal("expected error on server failure")
	}
	if !strings.Contains(err.Error(), "coqui:") {
		t.Errorf("error %q missing 'coqui:' prefix", err)
	}
}

func TestListVoices_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	if _, err := mustNew(t, srv.URL).ListVoices(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
