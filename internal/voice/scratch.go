package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// scratchDir is the manager-owned directory that file-based actors render
// into. Every path handed out is unique.
type scratchDir struct {
	path string
}

func newScratchDir(root string) (*scratchDir, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("voice: create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "troupe-scratch-")
	if err != nil {
		return nil, fmt.Errorf("voice: create scratch dir: %w", err)
	}
	return &scratchDir{path: dir}, nil
}

func (d *scratchDir) forMessage(id uuid.UUID) *messageScratch {
	return &messageScratch{dir: d, id: id}
}

// sweep removes the directory and anything left in it.
func (d *scratchDir) sweep() error {
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("voice: sweep scratch dir: %w", err)
	}
	return nil
}

// messageScratch allocates paths for one message and remembers them so they
// can be removed when the message is finished, whatever the actor did.
type messageScratch struct {
	dir *scratchDir
	id  uuid.UUID

	mu       sync.Mutex
	paths    []string
	released bool
}

var _ Scratch = (*messageScratch)(nil)

// Allocate implements [Scratch].
func (s *messageScratch) Allocate(ext string) (string, error) {
	if ext != "" && ext[0] != '.' {
		ext = "." + ext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", errors.New("voice: scratch space already released")
	}
	p := filepath.Join(s.dir.path, s.id.String()+"-"+uuid.NewString()+ext)
	s.paths = append(s.paths, p)
	return p, nil
}

// release deletes every allocated path. Missing files are not an error.
func (s *messageScratch) release() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.released = true
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
