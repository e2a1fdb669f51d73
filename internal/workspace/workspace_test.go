package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/talkback/internal/workspace"
)

func TestNew_CreatesDirectoryNamedAfterID(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Close()

	if ws.ID() == "" {
		t.Fatal("empty ID")
	}
	if got, want := ws.Dir(), filepath.Join(root, ws.ID()); got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}
	info, err := os.Stat(ws.Dir())
	if err != nil {
		t.Fatalf("stat workspace dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("workspace path is not a directory")
	}
}

func TestNew_CreatesMissingRoot(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "nested", "scratch")

	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Close()
}

func TestPath_EmbedsID(t *testing.T) {
	t.Parallel()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Close()

	for _, ext := range []string{"mp3", "wav", "json"} {
		p := ws.Path(ext)
		if filepath.Dir(p) != ws.Dir() {
			t.Errorf("Path(%q) = %q, not inside %q", ext, p, ws.Dir())
		}
		if base := filepath.Base(p); base != ws.ID()+"."+ext {
			t.Errorf("Path(%q) base = %q", ext, base)
		}
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Close()

	p, err := ws.Write("mp3", []byte("ID3"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if p != ws.Path("mp3") {
		t.Errorf("Write path = %q, want %q", p, ws.Path("mp3"))
	}
	data, err := ws.Read("mp3")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "ID3" {
		t.Errorf("Read = %q", data)
	}
	if _, err := ws.Read("json"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read missing file: err = %v, want os.ErrNotExist", err)
	}
}

func TestClose_RemovesEverything(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, ext := range []string{"mp3", "wav", "json"} {
		if _, err := ws.Write(ext, []byte(ext)); err != nil {
			t.Fatalf("Write %s: %v", ext, err)
		}
	}

	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := os.Stat(ws.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace dir still present: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root not empty after Close: %d entries", len(entries))
	}
}

func TestConcurrentWorkspacesAreDisjoint(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	const n = 32
	var (
		mu    sync.Mutex
		paths = make(map[string]bool)
		wg    sync.WaitGroup
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := workspace.New(root)
			if err != nil {
				t.Errorf("New: %v", err)
				return
			}
			defer ws.Close()
			p, err := ws.Write("wav", []byte(ws.ID()))
			if err != nil {
				t.Errorf("Write: %v", err)
				return
			}
			data, err := ws.Read("wav")
			if err != nil || string(data) != ws.ID() {
				t.Errorf("read back %q, %v; want own ID", data, err)
			}
			mu.Lock()
			paths[p] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(paths) != n {
		t.Errorf("got %d distinct paths, want %d", len(paths), n)
	}
	for p := range paths {
		if !strings.HasPrefix(p, root) {
			t.Errorf("path %q escapes root", p)
		}
	}
}

func TestCheckWritable(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := workspace.CheckWritable(root); err != nil {
		t.Fatalf("CheckWritable: %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("writability check left %d entries behind", len(entries))
	}

	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := workspace.CheckWritable(file); err == nil {
		t.Error("expected error when root is a regular file")
	}
}

func TestNewWithID(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	const id = "0b8f2c1e-4a57-4d3b-9a0e-6f1d2c3b4a59"

	w, err := workspace.NewWithID(root, id)
	if err != nil {
		t.Fatalf("NewWithID: %v", err)
	}
	defer w.Close()
	if w.ID() != id {
		t.Errorf("ID() = %q, want %q", w.ID(), id)
	}
	if got, want := w.Path("json"), filepath.Join(root, id, id+".json"); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestNewWithID_RejectsNonUUID(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, id := range []string{"", "../escape", "abc"} {
		if _, err := workspace.NewWithID(root, id); err == nil {
			t.Errorf("NewWithID(%q): expected error", id)
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("root has %d entries, want 0", len(entries))
	}
}

func TestNew_RelativeRootIsResolved(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)

	ws, err := workspace.New(filepath.Join("rel", "scratch"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ws.Close()

	want := filepath.Join(base, "rel", "scratch", ws.ID())
	if got, _ := filepath.EvalSymlinks(ws.Dir()); got != mustEval(t, want) {
		t.Errorf("Dir = %q, want %q", ws.Dir(), want)
	}
	if !filepath.IsAbs(ws.Path("wav")) {
		t.Errorf("Path = %q, want absolute", ws.Path("wav"))
	}

	// A tool started inside the workspace must still find its input.
	if _, err := ws.Write("mp3", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	t.Chdir(ws.Dir())
	if _, err := os.Stat(ws.Path("mp3")); err != nil {
		t.Errorf("input not reachable from workspace dir: %v", err)
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	got, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatalf("EvalSymlinks(%q): %v", p, err)
	}
	return got
}
