// Package storage confines psxav output to a single directory and keeps a
// ledger of every file a save produces.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PathError records a failed operation on an output path.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// OutputDir provides file creation within a base directory. Paths handed
// to it are relative to the base; anything resolving outside it is
// rejected.
type OutputDir struct {
	baseDir string

	mu      sync.Mutex
	started bool
	files   []string
}

// NewOutputDir creates an OutputDir rooted at baseDir, creating the
// directory if it doesn't exist.
func NewOutputDir(baseDir string) (*OutputDir, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, &PathError{Op: "create output directory", Path: absPath, Err: err}
	}

	return &OutputDir{baseDir: absPath}, nil
}

// BaseDir returns the absolute path of the output directory.
func (d *OutputDir) BaseDir() string {
	return d.baseDir
}

// ResolvePath resolves a relative path within the output directory.
func (d *OutputDir) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes output directory: %s (absolute paths not allowed)", relativePath)
	}

	fullPath := filepath.Join(d.baseDir, filepath.Clean(relativePath))
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, d.baseDir+string(filepath.Separator)) && absPath != d.baseDir {
		return "", fmt.Errorf("path escapes output directory: %s", relativePath)
	}
	return absPath, nil
}

// Begin starts a new ledger. Files returns nil until Begin is called.
func (d *OutputDir) Begin() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.files = []string{}
}

// Files returns the paths produced since Begin, in creation order.
func (d *OutputDir) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	out := make([]string, len(d.files))
	copy(out, d.files)
	return out
}

func (d *OutputDir) record(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	for _, f := range d.files {
		if f == path {
			return
		}
	}
	d.files = append(d.files, path)
}

// Create creates or truncates a file, making parent directories as
// needed, and records it in the ledger. The path may be relative to the
// output directory or an absolute path inside it.
func (d *OutputDir) Create(path string) (*os.File, error) {
	abs, err := d.resolve(path)
	if err != nil {
		return nil, &PathError{Op: "create", Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		return nil, &PathError{Op: "create parent directory", Path: abs, Err: err}
	}

	file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0640)
	if err != nil {
		return nil, &PathError{Op: "create", Path: abs, Err: err}
	}
	d.record(abs)
	return file, nil
}

// AtomicWriteReader writes r to path through a temporary file and a
// rename, so a reader never sees a partially written file. The target is
// recorded in the ledger.
func (d *OutputDir) AtomicWriteReader(path string, r io.Reader) error {
	targetPath, err := d.resolve(path)
	if err != nil {
		return &PathError{Op: "write", Path: path, Err: err}
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return &PathError{Op: "create parent directory", Path: targetPath, Err: err}
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return &PathError{Op: "create temporary file", Path: tempPath, Err: err}
	}

	_, err = io.Copy(tempFile, r)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return &PathError{Op: "write", Path: targetPath, Err: err}
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return &PathError{Op: "close", Path: targetPath, Err: closeErr}
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return &PathError{Op: "rename", Path: targetPath, Err: err}
	}
	d.record(targetPath)
	return nil
}

// Exists reports whether a path exists within the output directory.
func (d *OutputDir) Exists(path string) (bool, error) {
	abs, err := d.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(abs)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &PathError{Op: "stat", Path: abs, Err: err}
	}
	return true, nil
}

// resolve accepts both relative paths and absolute paths already inside
// the output directory.
func (d *OutputDir) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(d.baseDir, path)
		if err != nil {
			return "", fmt.Errorf("path escapes output directory: %s", path)
		}
		path = rel
	}
	return d.ResolvePath(path)
}

func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
