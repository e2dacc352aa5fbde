package export

import (
	"os"
	"path/filepath"
	"sync"

	"eightd/internal/domain"
)

// Handle is a lazily materialised export target. The file is only created
// once Ensure or Write runs; repeated Ensure calls reuse the same path.
type Handle struct {
	mu      sync.Mutex
	dir     string
	name    string
	path    string
	created bool
}

func NewHandle(dir string, rep domain.Report) *Handle {
	return &Handle{dir: dir, name: Filename(rep)}
}

// Ensure creates the export directory and an empty file on first call and
// returns the file path. Subsequent calls return the same path without
// touching the file again.
func (h *Handle) Ensure() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.created {
		return h.path, nil
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.dir, h.name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return "", err
		}
		f.Close()
	} else if err != nil {
		return "", err
	}
	h.path = path
	h.created = true
	return path, nil
}

// Write renders the report and replaces the file contents.
func (h *Handle) Write(rep domain.Report) (string, error) {
	path, err := h.Ensure()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(Render(rep)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
