// Package workspace manages the per-request scratch directory that holds the
// transient audio and lip-sync files of one chat pipeline run.
//
// Every workspace lives in its own directory named after a random request ID,
// and every file inside it embeds that same ID, so concurrent requests never
// share a path. Close removes the directory and everything in it.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Workspace is a request-scoped directory. It is safe to call Close more than
// once; Path and Write are only valid before Close.
type Workspace struct {
	id  string
	dir string

	closeOnce sync.Once
	closeErr  error
}

// New creates a fresh workspace directory under root named after a new
// random request ID. The root is created when it does not exist yet.
func New(root string) (*Workspace, error) {
	return NewWithID(root, uuid.NewString())
}

// NewWithID is like [New] but uses a request ID allocated by the caller, so
// log lines written before the workspace exists carry the same ID. id must
// be a UUID; anything else could escape root.
func NewWithID(root, id string) (*Workspace, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("workspace: invalid request id %q: %w", id, err)
	}
	if root == "" {
		root = os.TempDir()
	}
	// Tools run with the workspace as their working directory, so a relative
	// root would be resolved twice.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("workspace: create root %q: %w", root, err)
	}
	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: create %q: %w", dir, err)
	}
	return &Workspace{id: id, dir: dir}, nil
}

// ID returns the request ID the workspace is named after.
func (w *Workspace) ID() string { return w.id }

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the path of the workspace file with the given extension,
// e.g. Path("wav") → <root>/<id>/<id>.wav.
func (w *Workspace) Path(ext string) string {
	return filepath.Join(w.dir, w.id+"."+ext)
}

// Write stores data as the workspace file with the given extension and
// returns its path.
func (w *Workspace) Write(ext string, data []byte) (string, error) {
	p := w.Path(ext)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", filepath.Base(p), err)
	}
	return p, nil
}

// Read returns the content of the workspace file with the given extension.
func (w *Workspace) Read(ext string) ([]byte, error) {
	data, err := os.ReadFile(w.Path(ext))
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", w.id+"."+ext, err)
	}
	return data, nil
}

// Close removes the workspace directory and all files in it.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.closeErr = fmt.Errorf("workspace: remove %q: %w", w.dir, err)
		}
	})
	return w.closeErr
}

// CheckWritable verifies that new workspaces can be created under root by
// creating and removing a scratch workspace.
func CheckWritable(root string) error {
	w, err := New(root)
	if err != nil {
		return err
	}
	if _, err := w.Write("check", nil); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
