package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/pipeline"
)

// Manager lays out per-run artifact directories under a base output
// directory and retires temporary files once a run finishes.
type Manager struct {
	outputDir string
	tempDir   string
}

// NewManager creates a manager rooted at outputDir. tempDir defaults
// to a temp subdirectory of outputDir.
func NewManager(outputDir, tempDir string) *Manager {
	if outputDir == "" {
		outputDir = "output"
	}
	if tempDir == "" {
		tempDir = filepath.Join(outputDir, "temp")
	}
	return &Manager{outputDir: outputDir, tempDir: tempDir}
}

// ForRun builds the workspace for one run, creating its directories.
// Chain-level output_dir and temp_dir override the manager defaults.
func (m *Manager) ForRun(runID string, c *chain.Chain) (*Workspace, error) {
	outputDir := m.outputDir
	tempDir := m.tempDir
	cleanupTemp := false
	saveIntermediates := false
	if c != nil {
		if c.OutputDir != "" {
			outputDir = c.OutputDir
		}
		if c.TempDir != "" {
			tempDir = c.TempDir
		}
		cleanupTemp = c.CleanupTemp
		saveIntermediates = c.SaveIntermediates
	}

	w := &Workspace{
		runID:             runID,
		dir:               filepath.Join(outputDir, runID),
		tempDir:           filepath.Join(tempDir, runID),
		cleanupTemp:       cleanupTemp,
		saveIntermediates: saveIntermediates,
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := os.MkdirAll(w.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return w, nil
}

// Workspace is the on-disk space of a single run: a permanent run
// directory for final artifacts and a temp directory for step
// intermediates.
type Workspace struct {
	runID             string
	dir               string
	tempDir           string
	cleanupTemp       bool
	saveIntermediates bool

	mu            sync.Mutex
	intermediates []string
}

// Dir returns the permanent run directory.
func (w *Workspace) Dir() string { return w.dir }

// TempDir returns the run's temp directory.
func (w *Workspace) TempDir() string { return w.tempDir }

// TrackIntermediate records a temp file produced by a non-final step
// so Cleanup knows to preserve or discard it.
func (w *Workspace) TrackIntermediate(path string) {
	w.mu.Lock()
	w.intermediates = append(w.intermediates, path)
	w.mu.Unlock()
}

// Intermediates lists the tracked temp files in the order recorded.
func (w *Workspace) Intermediates() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.intermediates...)
}

// WriteReport serializes the run report to report.json in the run
// directory and returns its path.
func (w *Workspace) WriteReport(report *pipeline.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(w.dir, "report.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Cleanup retires the run's temp directory. Tracked intermediates are
// moved into the run directory first when save_intermediates is set;
// the temp tree is removed only when cleanup_temp is set.
func (w *Workspace) Cleanup() error {
	if w.saveIntermediates {
		if err := w.promoteIntermediates(); err != nil {
			return err
		}
	}
	if !w.cleanupTemp {
		return nil
	}
	if err := os.RemoveAll(w.tempDir); err != nil {
		return fmt.Errorf("failed to clean temp directory: %w", err)
	}
	return nil
}

func (w *Workspace) promoteIntermediates() error {
	paths := w.Intermediates()
	if len(paths) == 0 {
		return nil
	}

	keepDir := filepath.Join(w.dir, "intermediates")
	if err := os.MkdirAll(keepDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediates directory: %w", err)
	}
	for _, src := range paths {
		dst := filepath.Join(keepDir, filepath.Base(src))
		if err := moveFile(src, dst); err != nil {
			log.Printf("Warning: failed to keep intermediate %s: %v", src, err)
		}
	}
	return nil
}

// moveFile renames when possible and falls back to copy plus remove
// for cross-device moves.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
