package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for where results are written.
const (
	DefaultResultsDir      = "step-runner-results"
	DefaultResultsFileName = "step-runner-results.yml"
	snapshotExt            = ".cbor"
	lockExt                = ".lock"
)

// Store persists a WorkflowResult as a CBOR snapshot plus a human readable
// rendering next to it. Every load and persist holds an exclusive advisory
// lock so cooperating processes see a consistent history.
type Store struct {
	path         string
	snapshotPath string
	lockPath     string
}

// NewStore returns a store for the default results file inside dir.
func NewStore(dir string) *Store {
	s, _ := NewFileStore(filepath.Join(dir, DefaultResultsFileName))
	return s
}

// NewFileStore returns a store rendering to path. The extension selects
// the format: .yml or .yaml for YAML, .json for JSON. The snapshot shares
// the base name with a .cbor extension.
func NewFileStore(path string) (*Store, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return &Store{
		path:         path,
		snapshotPath: base + snapshotExt,
		lockPath:     base + snapshotExt + lockExt,
	}, nil
}

// Path returns the rendered results file.
func (s *Store) Path() string { return s.path }

// SnapshotPath returns the binary snapshot file.
func (s *Store) SnapshotPath() string { return s.snapshotPath }

// Load returns the persisted history, or an empty one if nothing has been
// persisted yet.
func (s *Store) Load() (*WorkflowResult, error) {
	var w *WorkflowResult
	err := s.withLock(func() error {
		var err error
		w, err = s.readSnapshot()
		return err
	})
	return w, err
}

// Persist merges w with the history on disk, writes the snapshot and the
// rendering, and leaves w holding the merged history.
func (s *Store) Persist(w *WorkflowResult) error {
	return s.withLock(func() error {
		merged, err := s.readSnapshot()
		if err != nil {
			return err
		}
		if err := merged.Merge(w); err != nil {
			return fmt.Errorf("merge results with %s: %w", s.snapshotPath, err)
		}
		snapshot, err := MarshalSnapshot(merged)
		if err != nil {
			return err
		}
		rendered, err := Render(merged, s.path)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(s.snapshotPath, snapshot); err != nil {
			return err
		}
		if err := writeFileAtomic(s.path, rendered); err != nil {
			return err
		}
		w.results = merged.results
		return nil
	})
}

func (s *Store) readSnapshot() (*WorkflowResult, error) {
	data, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return NewWorkflowResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return NewWorkflowResult(), nil
	}
	w, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.snapshotPath, err)
	}
	return w, nil
}

func (s *Store) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		return fmt.Errorf("lock %s: %w", s.lockPath, err)
	}
	defer unlockFile(f)
	return fn()
}

// Render renders w in the format selected by path's extension.
func Render(w *WorkflowResult, path string) ([]byte, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	return RenderFormat(w, format)
}

// RenderFormat renders w as "yaml" or "json".
func RenderFormat(w *WorkflowResult, format string) ([]byte, error) {
	doc := w.StepRunnerResultsDict()
	switch format {
	case "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal results JSON: %w", err)
		}
		return append(data, '\n'), nil
	case "yaml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("marshal results YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("marshal results YAML: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown results format %q", format)
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return "yaml", nil
	case ".json":
		return "json", nil
	}
	return "", fmt.Errorf("results file %q: extension must be .yml, .yaml or .json", path)
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it over path, so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
